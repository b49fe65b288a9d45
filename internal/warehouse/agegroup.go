package warehouse

// AgeGroup buckets a customer age into the reporting bands used by the
// customer metrics aggregate. Ages at or below 25 fold into the bottom band
// and 56 is open-ended at the top.
func AgeGroup(age int64) string {
	switch {
	case age <= 25:
		return "18-25"
	case age <= 35:
		return "26-35"
	case age <= 45:
		return "36-45"
	case age <= 55:
		return "46-55"
	default:
		return "56+"
	}
}
