package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// documentStore is the remote rule-document contract: versioned get/put with
// optimistic concurrency. Conflicting concurrent writers are detected by the
// store, not locally.
type documentStore interface {
	// Get returns the document body and its version token. A missing
	// document is errDocumentMissing, distinct from other failures.
	Get(doc string) (body []byte, etag string, err error)
	// Put writes the whole document under the given version token and
	// returns the new token. A stale token is errVersionConflict.
	Put(doc string, body []byte, etag string) (newEtag string, err error)
}

var (
	errDocumentMissing = errors.New("document not found")
	errVersionConflict = errors.New("document version conflict")
)

// xcapClient is an HTTP documentStore against an XCAP root, one document
// subtree per user.
type xcapClient struct {
	http     *http.Client
	root     string
	user     string
	password string
	log      *logrus.Entry
}

func newXCAPClient(root, user, password string, log *logrus.Entry) *xcapClient {
	return &xcapClient{
		http:     &http.Client{Timeout: 10 * time.Second},
		root:     root,
		user:     user,
		password: password,
		log:      log,
	}
}

// docURL forms <root>/<auid>/users/<user>/index per the XCAP layout.
func (c *xcapClient) docURL(doc string) string {
	return fmt.Sprintf("%s/%s/users/%s/index", c.root, doc, url.PathEscape(c.user))
}

func (c *xcapClient) Get(doc string) ([]byte, string, error) {
	req, err := http.NewRequest(http.MethodGet, c.docURL(doc), nil)
	if err != nil {
		return nil, "", err
	}
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("get %q: %w", doc, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", errDocumentMissing
	case resp.StatusCode/100 != 2:
		return nil, "", fmt.Errorf("get %q: %s", doc, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("get %q: %w", doc, err)
	}
	c.log.Debugf("fetched %q (%d bytes, etag %q)", doc, len(body), resp.Header.Get("ETag"))
	return body, resp.Header.Get("ETag"), nil
}

func (c *xcapClient) Put(doc string, body []byte, etag string) (string, error) {
	req, err := http.NewRequest(http.MethodPut, c.docURL(doc), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Content-Type", "application/auth-policy+xml")
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("put %q: %w", doc, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusPreconditionFailed:
		return "", errVersionConflict
	case resp.StatusCode/100 != 2:
		return "", fmt.Errorf("put %q: %s", doc, resp.Status)
	}
	c.log.Debugf("stored %q (etag %q)", doc, resp.Header.Get("ETag"))
	return resp.Header.Get("ETag"), nil
}
