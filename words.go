package docxtemplar

// Преобразование числа в английские слова по короткой шкале: "Two", "Twenty-One",
// "Three Hundred Five". Используется для количества инстансов в прозе договора.

var wordsOnes = [...]string{
	"Zero", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine",
	"Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen",
	"Seventeen", "Eighteen", "Nineteen",
}

var wordsTens = [...]string{
	"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety",
}

var wordsScales = []struct {
	value int64
	name  string
}{
	{1_000_000_000, "Billion"},
	{1_000_000, "Million"},
	{1_000, "Thousand"},
}

func numberToWords(n int64) string {
	if n < 0 {
		return "Minus " + numberToWords(-n)
	}
	if n < 20 {
		return wordsOnes[n]
	}
	if n < 100 {
		w := wordsTens[n/10]
		if n%10 != 0 {
			w += "-" + wordsOnes[n%10]
		}
		return w
	}
	if n < 1000 {
		w := wordsOnes[n/100] + " Hundred"
		if n%100 != 0 {
			w += " " + numberToWords(n%100)
		}
		return w
	}
	for _, s := range wordsScales {
		if n >= s.value {
			w := numberToWords(n/s.value) + " " + s.name
			if n%s.value != 0 {
				w += " " + numberToWords(n%s.value)
			}
			return w
		}
	}
	return wordsOnes[0]
}
