package downloader

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
)

// ListRemoteFiles returns the absolute URLs of every file linked from the
// HTML directory listing whose name ends in suffix, sorted and without
// duplicates.
func (d *Downloader) ListRemoteFiles(ctx context.Context, listingURL, suffix string) ([]string, error) {
	return d.ListRemoteFilesWithPrefix(ctx, listingURL, "", suffix)
}

// ListRemoteFilesWithPrefix is ListRemoteFiles restricted to file names
// starting with prefix.
func (d *Downloader) ListRemoteFilesWithPrefix(ctx context.Context, listingURL, prefix, suffix string) ([]string, error) {
	base, err := url.Parse(listingURL)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeValidation, "invalid listing url %q", listingURL)
	}

	var doc *goquery.Document
	err = d.retry.Execute(ctx, d.logger.With(zap.String("url", listingURL)), "listing", func(int) error {
		resp, err := d.get(ctx, listingURL, 0)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusError(resp, listingURL)
		}
		doc, err = goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return classifyTransport(ctx, err, listingURL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		name := path.Base(abs.Path)
		if !strings.HasSuffix(name, suffix) || !strings.HasPrefix(name, prefix) {
			return
		}
		seen[abs.String()] = struct{}{}
	})

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	d.logger.Info("listed remote files",
		zap.String("listing", listingURL),
		zap.Int("files", len(urls)))
	return urls, nil
}
