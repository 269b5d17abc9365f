package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ensclub/ens-verify/config"
	"github.com/ensclub/ens-verify/types"
	"github.com/pkg/errors"
)

const (
	maxResponseSize  = 16 << 20
	maxErrorBodySize = 4 << 10
)

// Client reads token holdings from the Alchemy NFT API (v3).
type Client struct {
	baseUrl string
	apiKey  *config.Secret
	http    *http.Client
}

func NewClient(baseUrl string, apiKey *config.Secret, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type ownedNftsResponse struct {
	OwnedNfts  []nft  `json:"ownedNfts"`
	Nfts       []nft  `json:"nfts"`
	PageKey    string `json:"pageKey"`
	TotalCount int    `json:"totalCount"`
}

type nft struct {
	TokenId string      `json:"tokenId"`
	Name    looseString `json:"name"`
	Title   looseString `json:"title"`
	Raw     struct {
		Metadata nameHolder `json:"metadata"`
	} `json:"raw"`
	RawMetadata      nameHolder `json:"rawMetadata"`
	ContractMetadata nameHolder `json:"contractMetadata"`
	Contract         nameHolder `json:"contract"`
	Id               struct {
		TokenId string `json:"tokenId"`
	} `json:"id"`
}

type nameHolder struct {
	Name looseString `json:"name"`
}

func (h *nameHolder) UnmarshalJSON(data []byte) error {
	var value struct {
		Name looseString `json:"name"`
	}
	if err := json.Unmarshal(data, &value); err != nil {
		*h = nameHolder{}
		return nil
	}
	h.Name = value.Name
	return nil
}

// looseString and nameHolder accept any JSON value: provider metadata is
// free-form and must not break decoding of the page.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		*s = ""
		return nil
	}
	*s = looseString(value)
	return nil
}

// OwnedTokens fetches one page of the owner's tokens of the given contract.
func (c *Client) OwnedTokens(ctx context.Context, owner, contract, pageKey string, pageSize int) (types.TokenPage, error) {
	reqUrl, err := c.ownedTokensUrl(owner, contract, pageKey, pageSize)
	if err != nil {
		return types.TokenPage{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
	if err != nil {
		return types.TokenPage{}, errors.Wrap(err, "build ledger request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return types.TokenPage{}, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return types.TokenPage{}, &types.UpstreamError{
			Service: "ledger",
			Status:  resp.StatusCode,
			Body:    string(bytes.TrimSpace(body)),
		}
	}
	body, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return types.TokenPage{}, errors.Wrap(err, "read ledger response")
	}
	var data ownedNftsResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return types.TokenPage{}, errors.Wrap(err, "decode ledger response")
	}
	list := data.OwnedNfts
	if list == nil {
		list = data.Nfts
	}
	page := types.TokenPage{
		Tokens:  make([]types.OwnedToken, 0, len(list)),
		PageKey: data.PageKey,
	}
	for _, item := range list {
		page.Tokens = append(page.Tokens, item.toOwnedToken(owner))
	}
	return page, nil
}

// transportError drops the request URL, which carries the API key, from a failed call.
func transportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return errors.Errorf("ledger %s: timeout", urlErr.Op)
		}
		return errors.Errorf("ledger %s: %v", urlErr.Op, urlErr.Err)
	}
	return errors.Wrap(err, "ledger request")
}

func (c *Client) ownedTokensUrl(owner, contract, pageKey string, pageSize int) (string, error) {
	apiKey, err := c.apiKey.Reveal()
	if err != nil {
		return "", err
	}
	endpoint := c.baseUrl
	if apiKey != "" {
		endpoint += "/" + url.PathEscape(apiKey)
	}
	u, err := url.Parse(endpoint + "/getNFTsForOwner")
	if err != nil {
		return "", errors.Wrap(err, "build ledger url")
	}
	q := u.Query()
	q.Set("owner", owner)
	q.Add("contractAddresses[]", contract)
	q.Set("withMetadata", "true")
	q.Set("pageSize", strconv.Itoa(pageSize))
	if pageKey != "" {
		q.Set("pageKey", pageKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (n nft) toOwnedToken(owner string) types.OwnedToken {
	tokenId := n.TokenId
	if tokenId == "" {
		tokenId = n.Id.TokenId
	}
	rawName := string(n.Raw.Metadata.Name)
	if rawName == "" {
		rawName = string(n.RawMetadata.Name)
	}
	contractName := string(n.ContractMetadata.Name)
	if contractName == "" {
		contractName = string(n.Contract.Name)
	}
	return types.OwnedToken{
		TokenId:      tokenId,
		OwnerAddress: owner,
		Metadata: types.TokenMetadata{
			RawName:      rawName,
			Title:        string(n.Title),
			Name:         string(n.Name),
			ContractName: contractName,
		},
	}
}
