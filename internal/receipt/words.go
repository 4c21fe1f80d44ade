package receipt

import "strings"

var ones = []string{
	"", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine",
	"Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen",
	"Seventeen", "Eighteen", "Nineteen",
}

var tens = []string{
	"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety",
}

// AmountInWords spells a whole rupee amount using Indian numbering
// (crore, lakh, thousand), e.g. 95 -> "Ninety Five Rupees Only"
func AmountInWords(rupees int64) string {
	if rupees == 0 {
		return "Zero Rupees Only"
	}
	words := strings.Join(indianWords(magnitude(rupees)), " ") + " Rupees Only"
	if rupees < 0 {
		return "Minus " + words
	}
	return words
}

// magnitude is |n| as a uint64, which holds it even for math.MinInt64
func magnitude(n int64) uint64 {
	if n < 0 {
		return -uint64(n)
	}
	return uint64(n)
}

func indianWords(n uint64) []string {
	var parts []string
	if n >= 10000000 {
		parts = append(parts, indianWords(n/10000000)...)
		parts = append(parts, "Crore")
		n %= 10000000
	}
	if n >= 100000 {
		parts = append(parts, belowHundred(n/100000)...)
		parts = append(parts, "Lakh")
		n %= 100000
	}
	if n >= 1000 {
		parts = append(parts, belowHundred(n/1000)...)
		parts = append(parts, "Thousand")
		n %= 1000
	}
	if n >= 100 {
		parts = append(parts, ones[n/100], "Hundred")
		n %= 100
	}
	return append(parts, belowHundred(n)...)
}

func belowHundred(n uint64) []string {
	switch {
	case n == 0:
		return nil
	case n < 20:
		return []string{ones[n]}
	case n%10 == 0:
		return []string{tens[n/10]}
	default:
		return []string{tens[n/10], ones[n%10]}
	}
}
