package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"biblesketch/internal/config"

	"github.com/vincent-petithory/dataurl"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"
)

// Fetcher 读取图片来源：data URI 或 http(s) URL
type Fetcher struct {
	client       *http.Client
	maxBytes     int64
	limiter      *rate.Limiter
	allowPrivate bool
}

// NewFetcher FetchesPerMinute 为 0 时不限制拉取频率；
// AllowPrivateNetworks 为 false 时拒绝回环、内网和链路本地地址
func NewFetcher(cfg config.ImagingConfig) *Fetcher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.FetchesPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.FetchesPerMinute)/60.0), cfg.FetchesPerMinute)
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !cfg.AllowPrivateNetworks {
		// 拨号前检查解析后的 IP，域名指向内网（含 DNS rebinding）同样会被拦下
		dialer.Control = dialControl
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.FetchTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	f := &Fetcher{
		maxBytes:     cfg.MaxSourceBytes,
		limiter:      limiter,
		allowPrivate: cfg.AllowPrivateNetworks,
	}
	f.client = &http.Client{
		Transport:     transport,
		Timeout:       cfg.FetchTimeout,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("重定向次数过多")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("重定向被拒绝: %w", ErrUnsupportedSource)
	}
	if !f.allowPrivate {
		if err := checkHost(req.URL); err != nil {
			return fmt.Errorf("重定向被拒绝: %w", err)
		}
	}
	return nil
}

var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// blockedIP 回环、内网、链路本地（含云厂商元数据地址）、组播和未指定地址
func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() ||
		cgnat.Contains(ip)
}

// checkHost 只能拦住直接写成 IP 或 localhost 的地址，域名交给 dialControl
func checkHost(u *url.URL) error {
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if ip := net.ParseIP(host); ip != nil && blockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func dialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || blockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// Load 返回来源的原始字节
func (f *Fetcher) Load(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, "data:") {
		du, err := dataurl.DecodeString(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		if int64(len(du.Data)) > f.maxBytes {
			return nil, ErrSourceTooLarge
		}
		return du.Data, nil
	}

	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrUnsupportedSource
	}
	if !f.allowPrivate {
		if err := checkHost(u); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
	}
	return f.fetch(ctx, u.String())
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, ErrSourceTooLarge
	}
	return body, nil
}

// Decode 先读尺寸，超过 maxPixels 时不做完整解码
func Decode(data []byte, maxPixels int64) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: 空图片", ErrDecodeFailed)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrSourceTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return img, nil
}

// ToDataURI 把 PNG 字节包装成 data URI
func ToDataURI(data []byte) string {
	return dataurl.New(data, "image/png").String()
}

// FromDataURI 取出 data URI 里的字节
func FromDataURI(s string) ([]byte, error) {
	du, err := dataurl.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return du.Data, nil
}

// SourceFromBytes 把本地文件内容包装成可传给 Normalizer 的来源
func SourceFromBytes(data []byte) string {
	return dataurl.New(data, http.DetectContentType(data)).String()
}
