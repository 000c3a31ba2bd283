package password

import "strings"

var commonBases = []string{
	"password", "123456", "password123", "admin", "qwerty", "letmein",
	"welcome", "monkey", "dragon", "master", "12345678", "123456789",
	"1234567890", "abc123", "password1", "123123", "000000", "iloveyou",
	"sunshine", "princess", "1234", "12345", "1234567", "111111",
	"photoshop", "123", "123abc", "aaa", "abc", "access", "adobe",
	"ashley", "azerty", "bailey", "baseball", "batman", "charlie",
	"donald", "flower", "football", "freedom", "hello", "hottie",
	"illustrator", "jesus", "login", "lovely", "michael", "mustang",
	"ninja", "passw0rd", "qazwsx", "qqww1122", "shadow", "solo",
	"starwars", "superman", "trustno1", "whatever", "zaq1zaq1",
}

// common holds the bases plus the "123", "!" and "1" suffix variants.
var common = buildCommon(commonBases)

func buildCommon(bases []string) map[string]struct{} {
	out := make(map[string]struct{}, len(bases)*4)
	for _, b := range bases {
		out[b] = struct{}{}
		out[b+"123"] = struct{}{}
		out[b+"!"] = struct{}{}
		out[b+"1"] = struct{}{}
	}
	return out
}

// IsCommon reports whether password, case-folded, is on the local list.
func IsCommon(password string) bool {
	_, ok := common[strings.ToLower(password)]
	return ok
}
