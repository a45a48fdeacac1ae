// README: Daraja (M-Pesa) STK push client: OAuth token, push request, phone normalization.
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"quickassist/internal/config"
)

const (
	mpesaTokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	mpesaPushPath  = "/mpesa/stkpush/v1/processrequest"
	mpesaStamp     = "20060102150405"

	// Tokens are refreshed this long before Daraja says they expire.
	mpesaTokenSkew = time.Minute
)

type MpesaClient struct {
	cfg        config.MobileMoneyConfig
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewMpesaClient(cfg config.MobileMoneyConfig) *MpesaClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MpesaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func (c *MpesaClient) Push(ctx context.Context, req PushRequest) (PushResult, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return PushResult{}, &GatewayError{Op: "push", Err: err}
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return PushResult{}, &GatewayError{Op: "auth", Err: err}
	}

	stamp := c.now().Format(mpesaStamp)
	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + stamp)),
		Timestamp:         stamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            strconv.FormatInt(req.Amount.Major(), 10),
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return PushResult{}, &GatewayError{Op: "push", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(mpesaPushPath), bytes.NewReader(raw))
	if err != nil {
		return PushResult{}, &GatewayError{Op: "push", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PushResult{}, &GatewayError{Op: "push", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusUnauthorized {
		c.dropToken(token)
	}

	var out stkPushResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return PushResult{}, &GatewayError{Op: "push", Err: fmt.Errorf("decode response (status %d): %w", res.StatusCode, err)}
	}
	if res.StatusCode != http.StatusOK {
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		return PushResult{}, &GatewayError{Op: "push", Err: fmt.Errorf("status %d: %s", res.StatusCode, msg)}
	}
	if out.CheckoutRequestID == "" {
		return PushResult{}, &GatewayError{Op: "push", Err: errors.New("response carried no checkout request id")}
	}
	return PushResult{Reference: out.CheckoutRequestID, CustomerMessage: out.CustomerMessage}, nil
}

// accessToken returns the cached OAuth token, fetching a new one once the
// cached token is within mpesaTokenSkew of expiring.
func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	token, ttl, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.tokenExpiry = c.now().Add(ttl - mpesaTokenSkew)
	return token, nil
}

// dropToken forgets token if it is still the cached one.
func (c *MpesaClient) dropToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

func (c *MpesaClient) fetchToken(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(mpesaTokenPath), nil)
	if err != nil {
		return "", 0, err
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+creds)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusBadRequest:
		return "", 0, fmt.Errorf("credentials rejected (status %d)", res.StatusCode)
	default:
		return "", 0, fmt.Errorf("token endpoint returned status %d", res.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("decode token: %w", err)
	}
	if out.AccessToken == "" {
		return "", 0, errors.New("empty access token")
	}
	secs, err := strconv.Atoi(out.ExpiresIn)
	if err != nil || secs <= 0 {
		secs = 3599
	}
	return out.AccessToken, time.Duration(secs) * time.Second, nil
}

func (c *MpesaClient) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// NormalizePhone turns local and international Kenyan formats into 2547XXXXXXXX.
func NormalizePhone(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	p = strings.TrimPrefix(p, "+")
	p = strings.ReplaceAll(p, " ", "")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	if len(p) != 12 || !strings.HasPrefix(p, "254") {
		return "", fmt.Errorf("unsupported phone number %q", raw)
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("unsupported phone number %q", raw)
		}
	}
	return p, nil
}

// CallbackEnvelope is the body Daraja posts to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (e CallbackEnvelope) Result() CallbackResult {
	cb := e.Body.StkCallback
	return CallbackResult{
		Reference:   cb.CheckoutRequestID,
		Success:     cb.ResultCode == 0,
		ResultCode:  cb.ResultCode,
		Description: cb.ResultDesc,
	}
}
