package prompts

import (
	"strconv"
	"strings"
)

var (
	ones  = []string{"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}
	teens = []string{"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen"}
	tens  = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}
)

var amountNoise = strings.NewReplacer("₹", "", "rupees", "", "Rs.", "", ",", "", "+", "")

// SpokenAmount renders a rupee amount in words using Indian grouping
// (crore, lakh, thousand). Paise are dropped. Input that is not a number is
// returned unchanged.
func SpokenAmount(s string) string {
	clean := strings.TrimSpace(amountNoise.Replace(s))
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return s
	}
	return numberWords(int64(f))
}

func numberWords(n int64) string {
	switch {
	case n == 0:
		return "zero"
	case n < 0:
		return "minus " + numberWords(-n)
	}

	var parts []string
	for _, g := range []struct {
		unit int64
		name string
	}{
		{10_000_000, "crore"},
		{100_000, "lakh"},
		{1_000, "thousand"},
	} {
		if n >= g.unit {
			parts = append(parts, numberWords(n/g.unit)+" "+g.name)
			n %= g.unit
		}
	}
	if n > 0 {
		parts = append(parts, belowThousand(n))
	}
	return strings.Join(parts, " ")
}

func belowThousand(n int64) string {
	switch {
	case n == 0:
		return ""
	case n < 10:
		return ones[n]
	case n < 20:
		return teens[n-10]
	case n < 100:
		if n%10 == 0 {
			return tens[n/10]
		}
		return tens[n/10] + " " + ones[n%10]
	}
	if n%100 == 0 {
		return ones[n/100] + " hundred"
	}
	return ones[n/100] + " hundred " + belowThousand(n%100)
}
