package tender

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"
)

// GenerateTenderNumber builds TDR-<initials>-<yymmdd>-<nnn> from the first
// letter of up to four words of projectName ("PRJ" when blank) and a random
// three-digit suffix.
func GenerateTenderNumber(projectName string, now time.Time) string {
	var initials []rune
	for _, word := range strings.Fields(projectName) {
		if len(initials) == 4 {
			break
		}
		r := []rune(word)[0]
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			initials = append(initials, unicode.ToUpper(r))
		}
	}
	p := string(initials)
	if p == "" {
		p = "PRJ"
	}
	return fmt.Sprintf("TDR-%s-%s-%d", p, now.UTC().Format("060102"), rand.IntN(900)+100)
}
