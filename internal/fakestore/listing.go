package fakestore

import (
	"encoding/base64"
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	xmlns           = "http://s3.amazonaws.com/doc/2006-03-01/"
	timestampFormat = "2006-01-02T15:04:05.000Z"
	defaultMaxKeys  = 1000
)

type versionXML struct {
	XMLName      xml.Name `xml:"Version"`
	Key          string   `xml:"Key"`
	VersionID    string   `xml:"VersionId"`
	IsLatest     bool     `xml:"IsLatest"`
	LastModified string   `xml:"LastModified"`
	ETag         string   `xml:"ETag"`
	Size         int64    `xml:"Size"`
	StorageClass string   `xml:"StorageClass"`
}

type deleteMarkerXML struct {
	XMLName      xml.Name `xml:"DeleteMarker"`
	Key          string   `xml:"Key"`
	VersionID    string   `xml:"VersionId"`
	IsLatest     bool     `xml:"IsLatest"`
	LastModified string   `xml:"LastModified"`
}

type contentXML struct {
	XMLName      xml.Name `xml:"Contents"`
	Key          string   `xml:"Key"`
	LastModified string   `xml:"LastModified"`
	ETag         string   `xml:"ETag"`
	Size         int64    `xml:"Size"`
	StorageClass string   `xml:"StorageClass"`
}

type commonPrefixXML struct {
	XMLName xml.Name `xml:"CommonPrefixes"`
	Prefix  string   `xml:"Prefix"`
}

type listVersionsResult struct {
	XMLName             xml.Name `xml:"ListVersionsResult"`
	Xmlns               string   `xml:"xmlns,attr"`
	Name                string   `xml:"Name"`
	Prefix              string   `xml:"Prefix"`
	KeyMarker           string   `xml:"KeyMarker"`
	VersionIDMarker     string   `xml:"VersionIdMarker"`
	NextKeyMarker       string   `xml:"NextKeyMarker,omitempty"`
	NextVersionIDMarker string   `xml:"NextVersionIdMarker,omitempty"`
	MaxKeys             int      `xml:"MaxKeys"`
	Delimiter           string   `xml:"Delimiter,omitempty"`
	IsTruncated         bool     `xml:"IsTruncated"`
	Entries             []any
}

type listBucketResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	Xmlns                 string   `xml:"xmlns,attr"`
	Name                  string   `xml:"Name"`
	Prefix                string   `xml:"Prefix"`
	KeyCount              int      `xml:"KeyCount"`
	MaxKeys               int      `xml:"MaxKeys"`
	Delimiter             string   `xml:"Delimiter,omitempty"`
	IsTruncated           bool     `xml:"IsTruncated"`
	ContinuationToken     string   `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string   `xml:"NextContinuationToken,omitempty"`
	Entries               []any
}

type versioningConfiguration struct {
	XMLName xml.Name `xml:"VersioningConfiguration"`
	Xmlns   string   `xml:"xmlns,attr"`
	Status  string   `xml:"Status,omitempty"`
}

type errorXML struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	RequestID string   `xml:"RequestId"`
}

// item is one listing position: an entry or a rolled-up common prefix.
type item struct {
	sortKey string
	entry   *Entry
	latest  bool
}

func (it item) versionID() string {
	if it.entry == nil {
		return ""
	}
	return it.entry.VersionID
}

// collect filters entries by prefix and rolls keys up to common prefixes at
// the first delimiter after the prefix. Input must be ordered.
func collect(entries []Entry, prefix, delimiter string, currentOnly bool) []item {
	var items []item
	seenPrefix := make(map[string]bool)
	lastKey := ""
	for i := range entries {
		e := &entries[i]
		latest := i == 0 || e.Key != lastKey
		lastKey = e.Key

		if currentOnly && (!latest || e.DeleteMarker) {
			continue
		}
		if !strings.HasPrefix(e.Key, prefix) {
			continue
		}
		if delimiter != "" {
			rest := e.Key[len(prefix):]
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				cp := prefix + rest[:idx+len(delimiter)]
				if !seenPrefix[cp] {
					seenPrefix[cp] = true
					items = append(items, item{sortKey: cp})
				}
				continue
			}
		}
		items = append(items, item{sortKey: e.Key, entry: e, latest: latest})
	}
	return items
}

// resumeIndex returns the first item after the marker position.
func resumeIndex(items []item, keyMarker, versionIDMarker string) int {
	if keyMarker == "" {
		return 0
	}
	if versionIDMarker != "" {
		for i, it := range items {
			if it.sortKey == keyMarker && it.entry != nil && it.entry.VersionID == versionIDMarker {
				return i + 1
			}
		}
	}
	for i, it := range items {
		if it.sortKey > keyMarker {
			return i
		}
	}
	return len(items)
}

func parseMaxKeys(q url.Values) (int, bool) {
	raw := q.Get("max-keys")
	if raw == "" {
		return defaultMaxKeys, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	if n > defaultMaxKeys {
		n = defaultMaxKeys
	}
	return n, true
}

func (s *Store) listVersions(w http.ResponseWriter, r *http.Request, name string, entries []Entry, q url.Values) {
	maxKeys, ok := parseMaxKeys(q)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "InvalidArgument", "Provided max-keys not an integer or within integer range")
		return
	}
	prefix, delimiter := q.Get("prefix"), q.Get("delimiter")
	keyMarker, versionIDMarker := q.Get("key-marker"), q.Get("version-id-marker")

	items := collect(orderEntries(entries), prefix, delimiter, false)
	start := resumeIndex(items, keyMarker, versionIDMarker)
	end := min(start+maxKeys, len(items))

	out := listVersionsResult{
		Xmlns:           xmlns,
		Name:            name,
		Prefix:          prefix,
		KeyMarker:       keyMarker,
		VersionIDMarker: versionIDMarker,
		MaxKeys:         maxKeys,
		Delimiter:       delimiter,
		IsTruncated:     end < len(items),
	}
	for _, it := range items[start:end] {
		out.Entries = append(out.Entries, versionEntry(it))
	}
	if out.IsTruncated && end > start {
		last := items[end-1]
		out.NextKeyMarker = last.sortKey
		out.NextVersionIDMarker = last.versionID()
	}

	writeXML(w, r, out)
}

func versionEntry(it item) any {
	if it.entry == nil {
		return commonPrefixXML{Prefix: it.sortKey}
	}
	e := it.entry
	if e.DeleteMarker {
		return deleteMarkerXML{
			Key:          e.Key,
			VersionID:    e.VersionID,
			IsLatest:     it.latest,
			LastModified: formatTime(e.LastModified),
		}
	}
	return versionXML{
		Key:          e.Key,
		VersionID:    e.VersionID,
		IsLatest:     it.latest,
		LastModified: formatTime(e.LastModified),
		ETag:         `"` + e.ETag + `"`,
		Size:         e.Size,
		StorageClass: "STANDARD",
	}
}

func (s *Store) listObjects(w http.ResponseWriter, r *http.Request, name string, entries []Entry, q url.Values) {
	maxKeys, ok := parseMaxKeys(q)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "InvalidArgument", "Provided max-keys not an integer or within integer range")
		return
	}
	prefix, delimiter := q.Get("prefix"), q.Get("delimiter")

	marker := q.Get("start-after")
	token := q.Get("continuation-token")
	if token != "" {
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "InvalidArgument", "The continuation token provided is incorrect")
			return
		}
		marker = string(decoded)
	}

	items := collect(orderEntries(entries), prefix, delimiter, true)
	start := resumeIndex(items, marker, "")
	end := min(start+maxKeys, len(items))

	out := listBucketResult{
		Xmlns:             xmlns,
		Name:              name,
		Prefix:            prefix,
		KeyCount:          end - start,
		MaxKeys:           maxKeys,
		Delimiter:         delimiter,
		IsTruncated:       end < len(items),
		ContinuationToken: token,
	}
	for _, it := range items[start:end] {
		if it.entry == nil {
			out.Entries = append(out.Entries, commonPrefixXML{Prefix: it.sortKey})
			continue
		}
		out.Entries = append(out.Entries, contentXML{
			Key:          it.entry.Key,
			LastModified: formatTime(it.entry.LastModified),
			ETag:         `"` + it.entry.ETag + `"`,
			Size:         it.entry.Size,
			StorageClass: "STANDARD",
		})
	}
	if out.IsTruncated && end > start {
		out.NextContinuationToken = base64.StdEncoding.EncodeToString([]byte(items[end-1].sortKey))
	}

	writeXML(w, r, out)
}

func writeXML(w http.ResponseWriter, r *http.Request, v any) {
	body, err := xml.Marshal(v)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("X-Amz-Request-Id", middleware.GetReqID(r.Context()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	reqID := middleware.GetReqID(r.Context())
	body, _ := xml.Marshal(errorXML{Code: code, Message: message, RequestID: reqID})
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("X-Amz-Request-Id", reqID)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

// formatTime renders t the way listings do.
func formatTime(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}
