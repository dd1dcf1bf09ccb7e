package instagram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"igharvest/pkg/auth"
	errs "igharvest/pkg/errors"
)

var sessionCookies = []string{"sessionid", "csrftoken", "ds_user_id", "mid"}

// Login authenticates with username and password. When the account has
// two-factor authentication enabled it returns an error matching
// errors.ErrChallengeRequired and keeps the challenge for TwoFactorLogin.
func (c *Client) Login(ctx context.Context, username, password string) error {
	c.logger.InfoWithFields("logging in", map[string]interface{}{"username": username})

	resp, err := c.apiRequest(ctx, http.MethodGet, LoginPageEndpoint, nil, "")
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if c.cookie("csrftoken") == "" {
		return errs.New(errs.ErrorTypeAuth, http.StatusForbidden, "login page did not issue a CSRF token")
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", time.Now().Unix(), password))
	form.Set("queryParams", "{}")
	form.Set("optIntoOneTap", "false")
	form.Set("trustedDeviceRecords", "{}")

	var lr loginResponse
	if _, err := c.postForm(ctx, LoginEndpoint, form, &lr); err != nil {
		return err
	}

	switch {
	case lr.TwoFactorRequired:
		c.mu.Lock()
		c.pending = &twoFactorState{username: username, identifier: lr.TwoFactorInfo.Identifier}
		c.mu.Unlock()
		c.logger.InfoWithFields("two-factor code required", map[string]interface{}{"username": username})
		return errs.New(errs.ErrorTypeChallenge, http.StatusAccepted, "two-factor code required for %s", username)
	case lr.Authenticated:
		c.setLoggedIn(username, lr.UserID.String())
		return nil
	case lr.CheckpointURL != "":
		return errs.New(errs.ErrorTypeAuth, http.StatusForbidden, "login blocked by checkpoint %s", lr.CheckpointURL)
	case !lr.User:
		return errs.New(errs.ErrorTypeAuth, http.StatusForbidden, "login failed: user %s does not exist", username)
	default:
		msg := lr.Message
		if msg == "" {
			msg = "wrong password"
		}
		return errs.New(errs.ErrorTypeAuth, http.StatusForbidden, "login failed: %s", msg)
	}
}

// TwoFactorLogin completes a pending two-factor challenge.
func (c *Client) TwoFactorLogin(ctx context.Context, code string) error {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending == nil {
		return errs.ErrNoPendingChallenge
	}

	form := url.Values{}
	form.Set("username", pending.username)
	form.Set("verificationCode", code)
	form.Set("identifier", pending.identifier)
	form.Set("queryParams", "{}")
	form.Set("trust_signal", "true")

	var lr loginResponse
	if _, err := c.postForm(ctx, TwoFactorEndpoint, form, &lr); err != nil {
		return err
	}

	if !lr.Authenticated {
		msg := lr.Message
		if msg == "" {
			msg = "code rejected"
		}
		return errs.New(errs.ErrorTypeInvalidCode, http.StatusForbidden, "two-factor login failed: %s", msg)
	}

	c.setLoggedIn(pending.username, lr.UserID.String())
	return nil
}

// TestLogin asks the server which account the current cookies belong to.
func (c *Client) TestLogin(ctx context.Context) (string, error) {
	var cu currentUserResponse
	if _, err := c.getJSON(ctx, CurrentUserEndpoint+"?edit=true", &cu); err != nil {
		return "", err
	}
	if cu.User.Username == "" {
		return "", errs.New(errs.ErrorTypeNotAuthenticated, http.StatusUnauthorized, "session is not logged in")
	}
	c.setLoggedIn(cu.User.Username, cu.User.PK.String())
	return cu.User.Username, nil
}

func (c *Client) setLoggedIn(username, userID string) {
	if userID == "" {
		userID = c.cookie("ds_user_id")
	}
	c.mu.Lock()
	c.username = username
	c.userID = userID
	c.pending = nil
	c.mu.Unlock()
	c.logger.InfoWithFields("logged in", map[string]interface{}{"username": username})
}

// ExportSession returns the session blob for the logged-in account.
func (c *Client) ExportSession() ([]byte, error) {
	c.mu.Lock()
	username, userID := c.username, c.userID
	c.mu.Unlock()

	account := &auth.Account{
		Username:     username,
		UserID:       userID,
		SessionID:    c.cookie("sessionid"),
		CSRFToken:    c.cookie("csrftoken"),
		MachineID:    c.cookie("mid"),
		UserAgent:    c.headers["User-Agent"],
		LastModified: time.Now(),
	}
	if account.UserID == "" {
		account.UserID = c.cookie("ds_user_id")
	}
	if err := account.Validate(); err != nil {
		return nil, errs.New(errs.ErrorTypeNotAuthenticated, http.StatusUnauthorized, "no session to export: %v", err)
	}
	return account.Blob()
}

// ImportSession installs the cookies of a session blob. The session is
// assumed valid; call TestLogin to verify it.
func (c *Client) ImportSession(blob []byte) error {
	account, err := auth.ParseBlob(blob)
	if err != nil {
		return err
	}

	values := map[string]string{
		"sessionid":  account.SessionID,
		"csrftoken":  account.CSRFToken,
		"ds_user_id": account.UserID,
		"mid":        account.MachineID,
	}
	var cookies []*http.Cookie
	for _, name := range sessionCookies {
		if v := values[name]; v != "" {
			cookies = append(cookies, &http.Cookie{Name: name, Value: v, Path: "/"})
		}
	}
	c.jar.SetCookies(c.baseURL, cookies)

	c.mu.Lock()
	c.username = account.Username
	c.userID = account.UserID
	c.pending = nil
	c.mu.Unlock()
	return nil
}

// Close forgets the session cookies and any pending challenge.
func (c *Client) Close() error {
	expired := make([]*http.Cookie, 0, len(sessionCookies))
	for _, name := range sessionCookies {
		expired = append(expired, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	}
	c.jar.SetCookies(c.baseURL, expired)

	c.mu.Lock()
	c.username = ""
	c.userID = ""
	c.pending = nil
	c.mu.Unlock()

	c.httpClient.CloseIdleConnections()
	c.mediaClient.CloseIdleConnections()
	return nil
}
