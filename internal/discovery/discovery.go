// Package discovery resolves a link address from an enterprise directory
// service before linking.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/address"
)

// LinkagePath is the directory endpoint that hands out a streamer address.
const LinkagePath = "/linkage"

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 64 * 1024

// Code classifies a discovery failure.
type Code int

const (
	CodeUnknown Code = iota
	CodeNetwork
	CodeHTTP
	CodeInvalidEndpoint
)

// Directory-level failures.
const (
	CodeInvalidState Code = 1001 + iota
	CodeBusy
	CodeGroupNotFound
	CodeNoLinkageAvailable
)

func (c Code) String() string {
	switch c {
	case CodeUnknown:
		return "Unknown"
	case CodeNetwork:
		return "Network"
	case CodeHTTP:
		return "HTTP"
	case CodeInvalidEndpoint:
		return "InvalidEndpoint"
	case CodeInvalidState:
		return "InvalidState"
	case CodeBusy:
		return "Busy"
	case CodeGroupNotFound:
		return "GroupNotFound"
	case CodeNoLinkageAvailable:
		return "NoLinkageAvailable"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is a failed discovery request. Status is the HTTP status code, or 0
// when no response was received.
type Error struct {
	Code   Code
	Status int
	Reason string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("discovery %s (HTTP %d): %s", e.Code, e.Status, e.Reason)
	}
	return fmt.Sprintf("discovery %s: %s", e.Code, e.Reason)
}

// Linkage is the body of a successful linkage response.
type Linkage struct {
	Address string `json:"address"`
}

// Client queries the directory over HTTP.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

// New returns a Client. A nil httpClient uses a client with a 10s timeout.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http: httpClient,
		log:  logger.With(zap.String("component", "discovery")),
	}
}

// GetLinkage asks the directory at endpoint for a streamer address.
func (c *Client) GetLinkage(ctx context.Context, endpoint address.LinkAddress) (address.LinkAddress, error) {
	if strings.TrimSpace(endpoint.Host) == "" {
		return address.LinkAddress{}, &Error{Code: CodeInvalidEndpoint, Reason: "endpoint is not set"}
	}

	url := "http://" + endpoint.String() + LinkagePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return address.LinkAddress{}, &Error{Code: CodeInvalidEndpoint, Reason: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return address.LinkAddress{}, &Error{Code: CodeNetwork, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return address.LinkAddress{}, &Error{Code: CodeNetwork, Status: resp.StatusCode, Reason: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return address.LinkAddress{}, &Error{Code: CodeNoLinkageAvailable, Status: resp.StatusCode, Reason: reason(resp, body)}
	case resp.StatusCode == http.StatusServiceUnavailable:
		return address.LinkAddress{}, &Error{Code: CodeBusy, Status: resp.StatusCode, Reason: reason(resp, body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return address.LinkAddress{}, &Error{Code: CodeHTTP, Status: resp.StatusCode, Reason: reason(resp, body)}
	}

	var linkage Linkage
	if err := json.Unmarshal(body, &linkage); err != nil {
		return address.LinkAddress{}, &Error{Code: CodeUnknown, Status: resp.StatusCode, Reason: "decode linkage: " + err.Error()}
	}
	addr, err := address.Parse(linkage.Address)
	if err != nil {
		return address.LinkAddress{}, &Error{Code: CodeNoLinkageAvailable, Status: resp.StatusCode, Reason: err.Error()}
	}

	c.log.Debug("linkage resolved", zap.Stringer("endpoint", endpoint), zap.Stringer("addr", addr))
	return addr, nil
}

func reason(resp *http.Response, body []byte) string {
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return resp.Status
}
