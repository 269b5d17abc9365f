package core

import (
	"regexp"
	"strings"

	"github.com/ensclub/ens-verify/types"
)

const (
	ChallengeTitle     = "ENS Club Verification"
	ChallengeStatement = "I authorize linking my Discord account to my wallet."

	walletLabel = "Wallet:"
	nonceLabel  = "Nonce:"
)

var (
	nonceLineRegexp  = regexp.MustCompile(`(?m)^[ \t]*Nonce:[ \t]*([0-9a-fA-F]{32})[ \t]*\r?$`)
	walletLineRegexp = regexp.MustCompile(`(?m)^[ \t]*Wallet:[ \t]*(\S+)[ \t]*\r?$`)
)

// Challenge is the content of the message a wallet signs.
// Address is whatever the signer wrote into the message and is informational only.
type Challenge struct {
	Address string
	Nonce   string
}

func EncodeChallenge(c Challenge) string {
	return strings.Join([]string{
		ChallengeTitle,
		ChallengeStatement,
		walletLabel + " " + c.Address,
		nonceLabel + " " + c.Nonce,
	}, "\n")
}

// DecodeChallenge requires exactly one "Nonce:" label, on a line of its own,
// followed by a 32 hex character token. The returned nonce is lower-cased.
func DecodeChallenge(message string) (Challenge, error) {
	switch strings.Count(message, nonceLabel) {
	case 0:
		return Challenge{}, types.ErrNonceMissing
	case 1:
	default:
		return Challenge{}, types.ErrNonceMalformed
	}
	m := nonceLineRegexp.FindStringSubmatch(message)
	if m == nil {
		return Challenge{}, types.ErrNonceMalformed
	}
	c := Challenge{
		Nonce: strings.ToLower(m[1]),
	}
	if w := walletLineRegexp.FindAllStringSubmatch(message, 2); len(w) == 1 {
		c.Address = w[0][1]
	}
	return c, nil
}
