package discord

import (
	"crypto/ed25519"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	InteractionPing               = 1
	InteractionApplicationCommand = 2

	ResponsePong           = 1
	ResponseChannelMessage = 4

	FlagEphemeral = 64

	ComponentActionRow = 1
	ComponentButton    = 2
	ButtonStyleLink    = 5

	commandTypeChatInput = 1

	VerifyCommandName = "verify"

	metaMaskDappUrl = "https://metamask.app.link/dapp/"
)

var schemeRegexp = regexp.MustCompile(`^https?://`)

type Command struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        int    `json:"type,omitempty"`
}

func VerifyCommand(parentName string) Command {
	return Command{
		Name:        VerifyCommandName,
		Description: "Verify you own an ENS subdomain under " + strings.Trim(parentName, "."),
		Type:        commandTypeChatInput,
	}
}

type User struct {
	Id string `json:"id"`
}

type Interaction struct {
	Type    int    `json:"type"`
	GuildId string `json:"guild_id"`
	Data    *struct {
		Name string `json:"name"`
	} `json:"data"`
	Member *struct {
		User *User `json:"user"`
	} `json:"member"`
	User *User `json:"user"`
}

// UserId prefers the guild member's user over the top-level user, which is only set in DMs.
func (i Interaction) UserId() string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Id
	}
	if i.User != nil {
		return i.User.Id
	}
	return ""
}

type InteractionResponse struct {
	Type int          `json:"type"`
	Data *MessageData `json:"data,omitempty"`
}

type MessageData struct {
	Content    string      `json:"content"`
	Flags      int         `json:"flags,omitempty"`
	Components []Component `json:"components,omitempty"`
}

type Component struct {
	Type       int         `json:"type"`
	Style      int         `json:"style,omitempty"`
	Label      string      `json:"label,omitempty"`
	Url        string      `json:"url,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// VerifyUrl is the deep link into the verification page. The uid and guild
// parameter names are read by the page and must not change.
func VerifyUrl(baseUrl, userId, guildId string) string {
	return strings.TrimRight(baseUrl, "/") + "/?uid=" + url.QueryEscape(userId) + "&guild=" + url.QueryEscape(guildId)
}

// MetaMaskUrl opens verifyUrl inside the MetaMask mobile in-app browser.
func MetaMaskUrl(verifyUrl string) string {
	return metaMaskDappUrl + schemeRegexp.ReplaceAllString(verifyUrl, "")
}

func HandleInteraction(interaction Interaction, baseUrl string) InteractionResponse {
	switch {
	case interaction.Type == InteractionPing:
		return InteractionResponse{Type: ResponsePong}
	case interaction.Type == InteractionApplicationCommand &&
		interaction.Data != nil && interaction.Data.Name == VerifyCommandName:
		return verifyReply(VerifyUrl(baseUrl, interaction.UserId(), interaction.GuildId))
	}
	return InteractionResponse{
		Type: ResponseChannelMessage,
		Data: &MessageData{Content: "Unknown command"},
	}
}

func verifyReply(webUrl string) InteractionResponse {
	return InteractionResponse{
		Type: ResponseChannelMessage,
		Data: &MessageData{
			Content: "Use the button that fits your device:",
			Flags:   FlagEphemeral,
			Components: []Component{
				{
					Type: ComponentActionRow,
					Components: []Component{
						{Type: ComponentButton, Style: ButtonStyleLink, Label: "Verify (Desktop/Web)", Url: webUrl},
						{Type: ComponentButton, Style: ButtonStyleLink, Label: "Verify in MetaMask (Mobile)", Url: MetaMaskUrl(webUrl)},
					},
				},
			},
		},
	}
}

func ParsePublicKey(hexKey string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "decode public key")
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// VerifyRequest checks the Ed25519 signature Discord puts on every interaction
// request, made over the timestamp header followed by the raw body.
func VerifyRequest(publicKey ed25519.PublicKey, signatureHex, timestamp string, body []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || signatureHex == "" || timestamp == "" {
		return false
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return false
	}
	message := make([]byte, 0, len(timestamp)+len(body))
	message = append(message, timestamp...)
	message = append(message, body...)
	return ed25519.Verify(publicKey, message, signature)
}
