package livisi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"golang.org/x/oauth2"
	"io"
	"net/http"
	"time"
)

// The controller accepts a fixed set of client credentials for local access.
const (
	clientID     = "clientId"
	clientSecret = "clientPass"
)

const tokenTimeout = 15 * time.Second

var _ oauth2.TokenSource = &passwordGrant{}

// passwordGrant gets an access token from the controller using the resource owner password grant.
//
// The controller expects the grant as a JSON body, which oauth2.Config.PasswordCredentialsToken doesn't do.
type passwordGrant struct {
	httpClient *http.Client
	url        string
	username   string
	password   string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (g *passwordGrant) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{
		"username":   g.username,
		"password":   g.password,
		"grant_type": "password",
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(clientID, clientSecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token: %s: %s", resp.Status, string(msg))
	}

	var token tokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("token: decode: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token: no access token received")
	}

	t := oauth2.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
	}
	if token.ExpiresIn > 0 {
		t.Expiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return &t, nil
}
