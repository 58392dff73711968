package identity

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiVersion = "2023-10-01"

// RESTIssuer mints identities and tokens against the identity gateway.
// Requests are signed with the resource access key; the key is held in
// memory only and never logged.
type RESTIssuer struct {
	endpoint   string
	accessKey  []byte
	httpClient *http.Client
}

// NewRESTIssuer builds an issuer for the given endpoint. accessKey is the
// base64-encoded signing key from the resource connection string.
func NewRESTIssuer(endpoint, accessKey string) (*RESTIssuer, error) {
	key, err := base64.StdEncoding.DecodeString(accessKey)
	if err != nil {
		return nil, fmt.Errorf("decode access key: %w", err)
	}
	return &RESTIssuer{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		accessKey:  key,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// CreateIdentity mints a new identity together with a chat-scoped token.
func (i *RESTIssuer) CreateIdentity(ctx context.Context) (UserToken, error) {
	body := map[string]any{"createTokenWithScopes": []string{"chat"}}
	var response struct {
		Identity struct {
			ID string `json:"id"`
		} `json:"identity"`
		AccessToken struct {
			Token     string    `json:"token"`
			ExpiresOn time.Time `json:"expiresOn"`
		} `json:"accessToken"`
	}
	if err := i.post(ctx, "/identities", body, &response); err != nil {
		return UserToken{}, fmt.Errorf("create identity: %w", err)
	}
	return UserToken{
		UserID: response.Identity.ID,
		AccessToken: AccessToken{
			Token:     response.AccessToken.Token,
			ExpiresOn: response.AccessToken.ExpiresOn,
		},
	}, nil
}

// IssueToken mints a chat-scoped token for an existing identity.
func (i *RESTIssuer) IssueToken(ctx context.Context, userID string) (AccessToken, error) {
	body := map[string]any{"scopes": []string{"chat"}}
	var response struct {
		Token     string    `json:"token"`
		ExpiresOn time.Time `json:"expiresOn"`
	}
	path := "/identities/" + url.PathEscape(userID) + "/:issueAccessToken"
	if err := i.post(ctx, path, body, &response); err != nil {
		return AccessToken{}, fmt.Errorf("issue token for identity: %w", err)
	}
	return AccessToken{Token: response.Token, ExpiresOn: response.ExpiresOn}, nil
}

func (i *RESTIssuer) post(ctx context.Context, path string, body, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	requestURL := i.endpoint + path + "?api-version=" + apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	i.sign(req, payload)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("identity gateway returned %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sign applies HMAC-SHA256 key auth: the signature covers the verb, the path
// and query, the UTC date, the host, and a SHA-256 hash of the body.
func (i *RESTIssuer) sign(req *http.Request, payload []byte) {
	contentHash := sha256.Sum256(payload)
	contentHashB64 := base64.StdEncoding.EncodeToString(contentHash[:])
	date := time.Now().UTC().Format(http.TimeFormat)

	pathAndQuery := req.URL.Path
	if req.URL.RawQuery != "" {
		pathAndQuery += "?" + req.URL.RawQuery
	}
	stringToSign := req.Method + "\n" + pathAndQuery + "\n" + date + ";" + req.URL.Host + ";" + contentHashB64

	mac := hmac.New(sha256.New, i.accessKey)
	_, _ = mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("x-ms-date", date)
	req.Header.Set("x-ms-content-sha256", contentHashB64)
	req.Header.Set("Authorization",
		"HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature="+signature)
}
