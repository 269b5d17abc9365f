package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ensclub/ens-verify/config"
	"github.com/ensclub/ens-verify/types"
	"github.com/pkg/errors"
)

const maxErrorBodySize = 4 << 10

// Client talks to the Discord REST API as a bot.
type Client struct {
	apiUrl   string
	botToken *config.Secret
	http     *http.Client
}

func NewClient(apiUrl string, botToken *config.Secret, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiUrl:   strings.TrimRight(apiUrl, "/"),
		botToken: botToken,
		http:     &http.Client{Timeout: timeout},
	}
}

// AddMemberRole adds roleId to the guild member. Discord answers 204 whether or
// not the member already had the role.
func (c *Client) AddMemberRole(ctx context.Context, guildId, userId, roleId string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(guildId), url.PathEscape(userId), url.PathEscape(roleId))
	return c.do(ctx, http.MethodPut, path, nil)
}

// RegisterGuildCommands overwrites the application's slash commands in one guild.
func (c *Client) RegisterGuildCommands(ctx context.Context, applicationId, guildId string, commands []Command) error {
	body, err := json.Marshal(commands)
	if err != nil {
		return errors.Wrap(err, "encode commands")
	}
	path := fmt.Sprintf("/applications/%s/guilds/%s/commands",
		url.PathEscape(applicationId), url.PathEscape(guildId))
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) error {
	token, err := c.botToken.Reveal()
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiUrl+path, reader)
	if err != nil {
		return errors.Wrap(err, "build discord request")
	}
	req.Header.Set("Authorization", "Bot "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "discord %s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &types.UpstreamError{
			Service: "discord",
			Status:  resp.StatusCode,
			Body:    string(bytes.TrimSpace(respBody)),
		}
	}
	_, _ = io.Copy(ioutil.Discard, resp.Body)
	return nil
}
