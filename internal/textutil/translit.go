package textutil

// cyrillicToLatin is the reversed Russian transliteration table, extended with
// the Ukrainian and Belarusian letters the catalog carries. Hard and soft
// signs have no Latin form and are dropped.
var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "j", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "",
	'ы': "y", 'ь': "", 'э': "e", 'ю': "ju", 'я': "ja",
	'і': "i", 'ї': "i", 'є': "e", 'ґ': "g", 'ў': "u",

	'А': "A", 'Б': "B", 'В': "V", 'Г': "G", 'Д': "D", 'Е': "E", 'Ё': "E",
	'Ж': "Zh", 'З': "Z", 'И': "I", 'Й': "J", 'К': "K", 'Л': "L", 'М': "M",
	'Н': "N", 'О': "O", 'П': "P", 'Р': "R", 'С': "S", 'Т': "T", 'У': "U",
	'Ф': "F", 'Х': "H", 'Ц': "Ts", 'Ч': "Ch", 'Ш': "Sh", 'Щ': "Sch", 'Ъ': "",
	'Ы': "Y", 'Ь': "", 'Э': "E", 'Ю': "Ju", 'Я': "Ja",
	'І': "I", 'Ї': "I", 'Є': "E", 'Ґ': "G", 'Ў': "U",
}

// Transliterate replaces Cyrillic letters with their Latin spelling and
// leaves every other rune untouched.
func Transliterate(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if latin, ok := cyrillicToLatin[r]; ok {
			out = append(out, latin...)
			continue
		}
		out = append(out, string(r)...)
	}
	return string(out)
}
