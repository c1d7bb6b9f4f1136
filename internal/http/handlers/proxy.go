package handlers

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	maxProxyBytes     = 200 << 20
	maxProxyRedirects = 5
)

var (
	errHostNotAllowed = errors.New("proxy: host not allowed")
	errPrivateAddress = errors.New("proxy: address is not publicly routable")
)

// NewProxyClient returns the client /proxy-download fetches with. Its dialer
// refuses loopback, private, link-local and unspecified addresses after DNS
// resolution, so a public name pointing inward is caught as well.
func NewProxyClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   refuseInternal,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// An outbound proxy would be the only address the dialer sees.
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: timeout, Transport: transport}
}

func refuseInternal(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !publicIP(ip) {
		return fmt.Errorf("%w: %s", errPrivateAddress, host)
	}
	return nil
}

func publicIP(ip net.IP) bool {
	return !ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsMulticast() &&
		!ip.IsUnspecified()
}

func (a *App) proxyHostAllowed(host string) bool {
	allow := a.Config.ProxyHostAllowlist
	return len(allow) == 0 || slices.Contains(allow, strings.ToLower(host))
}

// proxyRedirect applies the scheme and allowlist checks to every hop.
func (a *App) proxyRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxProxyRedirects {
		return fmt.Errorf("proxy: stopped after %d redirects", len(via))
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", errHostNotAllowed, req.URL.Scheme)
	}
	if !a.proxyHostAllowed(req.URL.Hostname()) {
		return fmt.Errorf("%w: %s", errHostNotAllowed, req.URL.Hostname())
	}
	return nil
}

// ProxyDownload fetches a remote asset on behalf of a caller that cannot
// reach it directly. Only http(s) URLs are accepted, and when an allowlist
// is configured the host of the URL and of every redirect must be on it.
func (a *App) ProxyDownload(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "url required")
		return
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Hostname() == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "url must be http or https")
		return
	}
	if !a.proxyHostAllowed(target.Hostname()) {
		a.error(w, http.StatusForbidden, "forbidden_host", "host is not allowed")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid url")
		return
	}
	client := *a.ProxyClient
	client.CheckRedirect = a.proxyRedirect
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, errHostNotAllowed) || errors.Is(err, errPrivateAddress) {
			a.Logger.Warn().Err(err).Str("host", target.Hostname()).Msg("proxy: refused target")
			a.error(w, http.StatusForbidden, "forbidden_host", "host is not allowed")
			return
		}
		a.Logger.Warn().Err(err).Str("host", target.Hostname()).Msg("proxy: upstream fetch failed")
		a.error(w, http.StatusBadGateway, "upstream_failed", "could not fetch url")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		a.Logger.Warn().Int("status", resp.StatusCode).Str("host", target.Hostname()).Msg("proxy: upstream status")
		a.error(w, http.StatusBadGateway, "upstream_failed", "upstream status "+strconv.Itoa(resp.StatusCode))
		return
	}
	if resp.ContentLength > maxProxyBytes {
		a.error(w, http.StatusBadGateway, "upstream_failed", "upstream body too large")
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if resp.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxProxyBytes)); err != nil {
		a.Logger.Warn().Err(err).Str("host", target.Hostname()).Msg("proxy: copy interrupted")
	}
}
