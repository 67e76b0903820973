package download

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"
)

const isolationPolicy = "default-src 'unsafe-eval' 'unsafe-inline' data:;"

var errNotHTML = errors.New("response is not html")

var cssURL = regexp.MustCompile(`url\(\s*(['"]?)([^'")]+)(['"]?)\s*\)`)

type assetKind int

const (
	assetBinary assetKind = iota
	assetScript
	assetStylesheet
)

// assetRef is one attribute in the document that points at an asset.
type assetRef struct {
	node *html.Node
	attr string
	kind assetKind
	url  string
}

// archive fetches the page at u, embeds its assets as data URIs and writes a
// single HTML file to downloads/<id>.html.
func (d *Downloader) archive(ctx context.Context, id string, u *url.URL) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ArchiveTimeout)
	defer cancel()

	// The archive timeout bounds the whole operation.
	client := &http.Client{}
	resp, err := d.get(ctx, client, u.String())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if ct != "" && baseType(ct) != "text/html" && baseType(ct) != "application/xhtml+xml" {
		return "", fmt.Errorf("%w: %s", errNotHTML, ct)
	}

	body, err := charset.NewReader(resp.Body, ct)
	if err != nil {
		return "", fmt.Errorf("decode charset: %w", err)
	}
	doc, err := html.Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	base := resp.Request.URL
	if href := baseHref(doc); href != "" {
		if b, err := base.Parse(href); err == nil {
			base = b
		}
	}

	refs := collectAssets(doc, base)
	embedded := d.fetchAssets(ctx, client, refs)
	for _, ref := range refs {
		switch uri, ok := embedded[ref.url]; {
		case ok && ref.kind == assetScript:
			removeAttr(ref.node, "src")
			ref.node.AppendChild(&html.Node{Type: html.TextNode, Data: uri})
		case ok:
			setAttr(ref.node, ref.attr, uri)
		default:
			setAttr(ref.node, ref.attr, ref.url)
		}
		if ref.attr == "src" {
			removeAttr(ref.node, "srcset")
			removeAttr(ref.node, "integrity")
		}
		if ref.kind == assetStylesheet {
			removeAttr(ref.node, "integrity")
		}
	}
	isolate(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	path, _, err := d.files.Write(id+".html", &buf)
	if err != nil {
		return "", err
	}
	return path, nil
}

// fetchAssets downloads every distinct asset with bounded concurrency. The
// returned map holds a data URI (or raw script text) per asset URL; assets
// that failed are absent.
func (d *Downloader) fetchAssets(ctx context.Context, client *http.Client, refs []assetRef) map[string]string {
	unique := make(map[string]assetKind)
	var order []string
	for _, r := range refs {
		if _, ok := unique[r.url]; !ok {
			unique[r.url] = r.kind
			order = append(order, r.url)
		}
	}

	results := make([]string, len(order))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.AssetWorkers)
	for i, assetURL := range order {
		g.Go(func() error {
			data, ct, err := d.fetchAsset(gCtx, client, assetURL)
			if err != nil {
				d.logger.Debug("download: asset skipped",
					slog.String("url", assetURL),
					slog.String("error", err.Error()))
				return nil
			}
			switch unique[assetURL] {
			case assetScript:
				results[i] = strings.ReplaceAll(string(data), "</script", `<\/script`)
			case assetStylesheet:
				css := d.inlineCSS(gCtx, client, assetURL, string(data))
				results[i] = dataURI("text/css", []byte(css))
			default:
				results[i] = dataURI(ct, data)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(order))
	for i, u := range order {
		if results[i] != "" {
			out[u] = results[i]
		}
	}
	return out
}

// inlineCSS replaces url() references in a stylesheet with data URIs.
func (d *Downloader) inlineCSS(ctx context.Context, client *http.Client, sheetURL, css string) string {
	base, err := url.Parse(sheetURL)
	if err != nil {
		return css
	}
	return cssURL.ReplaceAllStringFunc(css, func(m string) string {
		sub := cssURL.FindStringSubmatch(m)
		ref := strings.TrimSpace(sub[2])
		if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "#") {
			return m
		}
		abs, err := base.Parse(ref)
		if err != nil {
			return m
		}
		data, ct, err := d.fetchAsset(ctx, client, abs.String())
		if err != nil {
			return fmt.Sprintf("url(%q)", abs.String())
		}
		return fmt.Sprintf("url(%q)", dataURI(ct, data))
	})
}

func (d *Downloader) fetchAsset(ctx context.Context, client *http.Client, assetURL string) ([]byte, string, error) {
	resp, err := d.get(ctx, client, assetURL)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxAssetBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read asset: %w", err)
	}
	if int64(len(data)) > d.cfg.MaxAssetBytes {
		return nil, "", fmt.Errorf("asset larger than %d bytes", d.cfg.MaxAssetBytes)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = mimetype.Detect(data).String()
	}
	return data, baseType(ct), nil
}

// collectAssets finds embeddable references and makes every other link
// absolute so the archive still navigates to the original site.
func collectAssets(doc *html.Node, base *url.URL) []assetRef {
	var refs []assetRef
	resolve := func(raw string) (string, bool) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "javascript:") {
			return "", false
		}
		u, err := base.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return "", false
		}
		return u.String(), true
	}

	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.Img, atom.Source, atom.Input:
			if abs, ok := resolve(getAttr(n, "src")); ok {
				refs = append(refs, assetRef{node: n, attr: "src", kind: assetBinary, url: abs})
			}
		case atom.Script:
			if abs, ok := resolve(getAttr(n, "src")); ok {
				refs = append(refs, assetRef{node: n, attr: "src", kind: assetScript, url: abs})
			}
		case atom.Link:
			rel := strings.ToLower(getAttr(n, "rel"))
			abs, ok := resolve(getAttr(n, "href"))
			if !ok {
				return
			}
			switch {
			case strings.Contains(rel, "stylesheet"):
				refs = append(refs, assetRef{node: n, attr: "href", kind: assetStylesheet, url: abs})
			case strings.Contains(rel, "icon"):
				refs = append(refs, assetRef{node: n, attr: "href", kind: assetBinary, url: abs})
			}
		case atom.A, atom.Area, atom.Form:
			attr := "href"
			if n.DataAtom == atom.Form {
				attr = "action"
			}
			if abs, ok := resolve(getAttr(n, attr)); ok {
				setAttr(n, attr, abs)
			}
		}
	})
	return refs
}

// isolate forces UTF-8 and a content security policy that blocks network
// access from the archived page.
func isolate(doc *html.Node) {
	head := findFirst(doc, atom.Head)
	if head == nil {
		return
	}
	var stale []*html.Node
	walk(head, func(n *html.Node) {
		if n.DataAtom != atom.Meta {
			return
		}
		equiv := strings.ToLower(getAttr(n, "http-equiv"))
		if hasAttr(n, "charset") || equiv == "content-type" || equiv == "content-security-policy" {
			stale = append(stale, n)
		}
	})
	for _, n := range stale {
		n.Parent.RemoveChild(n)
	}

	csp := &html.Node{Type: html.ElementNode, Data: "meta", DataAtom: atom.Meta, Attr: []html.Attribute{
		{Key: "http-equiv", Val: "Content-Security-Policy"},
		{Key: "content", Val: isolationPolicy},
	}}
	meta := &html.Node{Type: html.ElementNode, Data: "meta", DataAtom: atom.Meta, Attr: []html.Attribute{
		{Key: "charset", Val: "utf-8"},
	}}
	head.InsertBefore(csp, head.FirstChild)
	head.InsertBefore(meta, head.FirstChild)
}

func baseHref(doc *html.Node) string {
	if n := findFirst(doc, atom.Base); n != nil {
		return getAttr(n, "href")
	}
	return ""
}

func dataURI(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}
