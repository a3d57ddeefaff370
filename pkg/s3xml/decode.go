// Package s3xml decodes the object store's XML listing responses.
//
// Version listings interleave <Version> and <DeleteMarker> elements in the
// store's recency order. Decoding walks the token stream so that order is
// preserved exactly as returned; unknown elements are skipped.
package s3xml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/verscan/pkg/provider"
)

// Root element names.
const (
	rootListVersions = "ListVersionsResult"
	rootListObjects  = "ListBucketResult"
	rootVersioning   = "VersioningConfiguration"
	rootError        = "Error"
)

type xmlVersion struct {
	Key          *string `xml:"Key"`
	VersionID    *string `xml:"VersionId"`
	IsLatest     string  `xml:"IsLatest"`
	LastModified *string `xml:"LastModified"`
	ETag         string  `xml:"ETag"`
	Size         string  `xml:"Size"`
	StorageClass string  `xml:"StorageClass"`
}

type xmlDeleteMarker struct {
	Key          *string `xml:"Key"`
	VersionID    *string `xml:"VersionId"`
	IsLatest     string  `xml:"IsLatest"`
	LastModified *string `xml:"LastModified"`
}

type xmlContent struct {
	Key          *string `xml:"Key"`
	LastModified *string `xml:"LastModified"`
	ETag         string  `xml:"ETag"`
	Size         string  `xml:"Size"`
	StorageClass string  `xml:"StorageClass"`
}

type xmlCommonPrefix struct {
	Prefix *string `xml:"Prefix"`
}

type xmlError struct {
	Code      string `xml:"Code"`
	Message   string `xml:"Message"`
	RequestID string `xml:"RequestId"`
	HostID    string `xml:"HostId"`
}

type xmlVersioning struct {
	Status string `xml:"Status"`
}

// DecodeVersions parses a ListVersionsResult document.
func DecodeVersions(body []byte) (*provider.PageResult, error) {
	page := &provider.PageResult{}
	var isTruncated string
	var nextKeyMarker, nextVersionIDMarker *string

	err := walk(body, rootListVersions, func(d *xml.Decoder, el xml.StartElement) error {
		switch el.Name.Local {
		case "Version":
			var v xmlVersion
			if err := d.DecodeElement(&v, &el); err != nil {
				return &provider.DecodeError{Field: "Version", Err: err}
			}
			rec, err := versionRecord(v)
			if err != nil {
				return err
			}
			page.Records = append(page.Records, rec)
		case "DeleteMarker":
			var m xmlDeleteMarker
			if err := d.DecodeElement(&m, &el); err != nil {
				return &provider.DecodeError{Field: "DeleteMarker", Err: err}
			}
			rec, err := deleteMarkerRecord(m)
			if err != nil {
				return err
			}
			page.Records = append(page.Records, rec)
		case "CommonPrefixes":
			rec, err := commonPrefixRecord(d, el)
			if err != nil {
				return err
			}
			page.Records = append(page.Records, rec)
		case "IsTruncated":
			return d.DecodeElement(&isTruncated, &el)
		case "NextKeyMarker":
			nextKeyMarker = new(string)
			return d.DecodeElement(nextKeyMarker, &el)
		case "NextVersionIdMarker":
			nextVersionIDMarker = new(string)
			return d.DecodeElement(nextVersionIDMarker, &el)
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	truncated, err := parseBool("IsTruncated", isTruncated)
	if err != nil {
		return nil, err
	}
	page.IsTruncated = truncated

	if truncated {
		if nextKeyMarker == nil || *nextKeyMarker == "" {
			return nil, provider.MissingField("NextKeyMarker")
		}
		next := &provider.ContinuationToken{KeyMarker: *nextKeyMarker}
		if nextVersionIDMarker != nil {
			next.VersionIDMarker = *nextVersionIDMarker
		}
		page.Next = next
	}

	return page, nil
}

// DecodeObjects parses a ListBucketResult (ListObjectsV2) document.
func DecodeObjects(body []byte) (*provider.PageResult, error) {
	page := &provider.PageResult{}
	var isTruncated string
	var nextToken *string

	err := walk(body, rootListObjects, func(d *xml.Decoder, el xml.StartElement) error {
		switch el.Name.Local {
		case "Contents":
			var c xmlContent
			if err := d.DecodeElement(&c, &el); err != nil {
				return &provider.DecodeError{Field: "Contents", Err: err}
			}
			rec, err := contentRecord(c)
			if err != nil {
				return err
			}
			page.Records = append(page.Records, rec)
		case "CommonPrefixes":
			rec, err := commonPrefixRecord(d, el)
			if err != nil {
				return err
			}
			page.Records = append(page.Records, rec)
		case "IsTruncated":
			return d.DecodeElement(&isTruncated, &el)
		case "NextContinuationToken":
			nextToken = new(string)
			return d.DecodeElement(nextToken, &el)
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	truncated, err := parseBool("IsTruncated", isTruncated)
	if err != nil {
		return nil, err
	}
	page.IsTruncated = truncated

	if truncated {
		if nextToken == nil || *nextToken == "" {
			return nil, provider.MissingField("NextContinuationToken")
		}
		page.Next = &provider.ContinuationToken{Token: *nextToken}
	}

	return page, nil
}

// DecodeVersioning parses a VersioningConfiguration document and returns its
// status ("Enabled", "Suspended", or "" when versioning was never enabled).
func DecodeVersioning(body []byte) (string, error) {
	var status string
	err := walk(body, rootVersioning, func(d *xml.Decoder, el xml.StartElement) error {
		if el.Name.Local == "Status" {
			return d.DecodeElement(&status, &el)
		}
		return d.Skip()
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(status), nil
}

// DecodeError builds an APIError from an error response.
//
// A body that is not an <Error> document still yields an APIError carrying
// the HTTP status text as its code, so server failures are never reported as
// decode failures.
func DecodeError(status int, body []byte, headers http.Header) *provider.APIError {
	apiErr := &provider.APIError{StatusCode: status}
	if headers != nil {
		apiErr.RequestID = headers.Get("X-Amz-Request-Id")
		apiErr.HostID = headers.Get("X-Amz-Id-2")
	}

	var doc xmlError
	if err := xml.Unmarshal(body, &doc); err == nil && doc.Code != "" {
		apiErr.Code = doc.Code
		apiErr.Message = doc.Message
		if doc.RequestID != "" {
			apiErr.RequestID = doc.RequestID
		}
		if doc.HostID != "" {
			apiErr.HostID = doc.HostID
		}
		return apiErr
	}

	apiErr.Code = strings.ReplaceAll(http.StatusText(status), " ", "")
	if apiErr.Code == "" {
		apiErr.Code = "HTTP" + strconv.Itoa(status)
	}
	return apiErr
}

// IsErrorDocument reports whether body's root element is <Error>.
func IsErrorDocument(body []byte) bool {
	name, err := rootName(body)
	return err == nil && name == rootError
}

// walk positions the decoder inside the expected root element and calls fn for
// each direct child start element. fn must consume the element it is handed.
func walk(body []byte, root string, fn func(*xml.Decoder, xml.StartElement) error) error {
	d := xml.NewDecoder(bytes.NewReader(body))

	start, err := nextStart(d)
	if err != nil {
		return err
	}
	if start.Name.Local != root {
		return &provider.DecodeError{Err: fmt.Errorf("unexpected root element <%s>, want <%s>", start.Name.Local, root)}
	}

	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return &provider.DecodeError{Err: fmt.Errorf("unterminated <%s>", root)}
			}
			return &provider.DecodeError{Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := fn(d, t); err != nil {
				var decodeErr *provider.DecodeError
				if errors.As(err, &decodeErr) {
					return err
				}
				return &provider.DecodeError{Field: t.Name.Local, Err: err}
			}
		case xml.EndElement:
			if t.Name.Local == root {
				return nil
			}
		}
	}
}

func rootName(body []byte) (string, error) {
	start, err := nextStart(xml.NewDecoder(bytes.NewReader(body)))
	if err != nil {
		return "", err
	}
	return start.Name.Local, nil
}

func nextStart(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xml.StartElement{}, &provider.DecodeError{Err: errors.New("empty document")}
			}
			return xml.StartElement{}, &provider.DecodeError{Err: err}
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func versionRecord(v xmlVersion) (provider.Record, error) {
	if v.Key == nil {
		return provider.Record{}, provider.MissingField("Version.Key")
	}
	if v.VersionID == nil {
		return provider.Record{}, provider.MissingField("Version.VersionId")
	}
	lastModified, err := parseTime("Version.LastModified", v.LastModified)
	if err != nil {
		return provider.Record{}, err
	}
	isLatest, err := parseBool("Version.IsLatest", v.IsLatest)
	if err != nil {
		return provider.Record{}, err
	}
	size, err := parseSize("Version.Size", v.Size)
	if err != nil {
		return provider.Record{}, err
	}

	rec := provider.NewObject(*v.Key, *v.VersionID, isLatest, size, lastModified, cleanETag(v.ETag))
	rec.StorageClass = v.StorageClass
	return rec, nil
}

func deleteMarkerRecord(m xmlDeleteMarker) (provider.Record, error) {
	if m.Key == nil {
		return provider.Record{}, provider.MissingField("DeleteMarker.Key")
	}
	if m.VersionID == nil {
		return provider.Record{}, provider.MissingField("DeleteMarker.VersionId")
	}
	lastModified, err := parseTime("DeleteMarker.LastModified", m.LastModified)
	if err != nil {
		return provider.Record{}, err
	}
	isLatest, err := parseBool("DeleteMarker.IsLatest", m.IsLatest)
	if err != nil {
		return provider.Record{}, err
	}
	return provider.NewDeleteMarker(*m.Key, *m.VersionID, isLatest, lastModified), nil
}

func contentRecord(c xmlContent) (provider.Record, error) {
	if c.Key == nil {
		return provider.Record{}, provider.MissingField("Contents.Key")
	}
	lastModified, err := parseTime("Contents.LastModified", c.LastModified)
	if err != nil {
		return provider.Record{}, err
	}
	size, err := parseSize("Contents.Size", c.Size)
	if err != nil {
		return provider.Record{}, err
	}

	// Object listings carry only current versions.
	rec := provider.NewObject(*c.Key, "", true, size, lastModified, cleanETag(c.ETag))
	rec.StorageClass = c.StorageClass
	return rec, nil
}

func commonPrefixRecord(d *xml.Decoder, el xml.StartElement) (provider.Record, error) {
	var cp xmlCommonPrefix
	if err := d.DecodeElement(&cp, &el); err != nil {
		return provider.Record{}, &provider.DecodeError{Field: "CommonPrefixes", Err: err}
	}
	if cp.Prefix == nil {
		return provider.Record{}, provider.MissingField("CommonPrefixes.Prefix")
	}
	return provider.NewCommonPrefix(*cp.Prefix), nil
}

func parseTime(field string, raw *string) (time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return time.Time{}, provider.MissingField(field)
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(*raw))
	if err != nil {
		return time.Time{}, &provider.DecodeError{Field: field, Err: err}
	}
	return ts.UTC(), nil
}

func parseBool(field, raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &provider.DecodeError{Field: field, Err: err}
	}
	return v, nil
}

func parseSize(field, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &provider.DecodeError{Field: field, Err: err}
	}
	return v, nil
}

// cleanETag removes surrounding quotes from an ETag value.
// S3 returns ETags with quotes, e.g., "d41d8cd98f00b204e9800998ecf8427e".
func cleanETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), "\"")
}
