// Package idp implements the consumed subset of the external identity
// provider's admin API: resolving a subject's group membership so the
// launch pipeline can derive database roles.
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Settings are the admin credentials used to authenticate to the IdP.
type Settings struct {
	URL      string
	Username string
	Password string
	Realm    string
}

const adminCLIClientID = "admin-cli"

// Client is a thin REST client over the IdP's group-membership API,
// authenticated via the OAuth2 resource-owner password grant against
// the realm's built-in admin-cli client.
type Client struct {
	settings Settings
	http     *http.Client
}

// New builds an idp Client. The token source is lazy: the first admin
// call triggers the password-grant exchange, and transparently
// refreshes once the token expires.
func New(ctx context.Context, settings Settings) *Client {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimRight(settings.URL, "/"), settings.Realm)
	oauthCfg := &oauth2.Config{
		ClientID: adminCLIClientID,
		Endpoint: oauth2.Endpoint{TokenURL: tokenURL},
	}
	source := passwordGrantSource{ctx: ctx, cfg: oauthCfg, username: settings.Username, password: settings.Password}
	return &Client{
		settings: settings,
		http:     oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, source)),
	}
}

// passwordGrantSource re-exchanges the admin-cli password grant each
// time the wrapping ReuseTokenSource's cached token has expired.
type passwordGrantSource struct {
	ctx      context.Context
	cfg      *oauth2.Config
	username string
	password string
}

func (s passwordGrantSource) Token() (*oauth2.Token, error) {
	return s.cfg.PasswordCredentialsToken(s.ctx, s.username, s.password)
}

// Group is a single IdP group membership entry.
type Group struct {
	Path string `json:"path"`
}

// GetUserGroups fetches the group memberships for an external subject.
func (c *Client) GetUserGroups(ctx context.Context, externalSubject string) ([]Group, error) {
	path := fmt.Sprintf("/admin/realms/%s/users/%s/groups", c.settings.Realm, externalSubject)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.settings.URL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("idp: fetching groups for %s: %w", externalSubject, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("idp: user %s not found", externalSubject)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("idp: groups lookup for %s returned status %d", externalSubject, resp.StatusCode)
	}
	var groups []Group
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("idp: decoding groups for %s: %w", externalSubject, err)
	}
	return groups, nil
}

const mysqlGroupPrefix = "/mysql_"

// DBRoles filters groups by the /mysql_ path prefix, stripping it to
// yield database role names.
func DBRoles(groups []Group) []string {
	var roles []string
	for _, g := range groups {
		if strings.HasPrefix(g.Path, mysqlGroupPrefix) {
			roles = append(roles, strings.TrimPrefix(g.Path, mysqlGroupPrefix))
		}
	}
	return roles
}
