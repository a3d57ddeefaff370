package fakestore

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/3leaps/verscan/pkg/sigv4"
)

const maxRequestSkew = 15 * time.Minute

// authorization is a parsed SigV4 Authorization header.
type authorization struct {
	accessKeyID   string
	date          string
	region        string
	service       string
	signedHeaders []string
	signature     string
}

func parseAuthorization(header string) (authorization, error) {
	var auth authorization

	rest, ok := strings.CutPrefix(header, sigv4.Algorithm+" ")
	if !ok {
		return auth, errors.New("unsupported authorization type")
	}

	for _, part := range strings.Split(rest, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return auth, errors.New("malformed authorization component")
		}
		switch name {
		case "Credential":
			scope := strings.Split(value, "/")
			if len(scope) != 5 || scope[4] != "aws4_request" {
				return auth, errors.New("malformed credential scope")
			}
			auth.accessKeyID, auth.date, auth.region, auth.service = scope[0], scope[1], scope[2], scope[3]
		case "SignedHeaders":
			auth.signedHeaders = strings.Split(value, ";")
		case "Signature":
			auth.signature = value
		}
	}

	if auth.accessKeyID == "" || auth.signature == "" || len(auth.signedHeaders) == 0 {
		return auth, errors.New("incomplete authorization header")
	}
	return auth, nil
}

// checkSignature recomputes the request signature. It returns an S3 error
// code and message on failure, or empty strings when the request is valid.
func (s *Store) checkSignature(r *http.Request) (code, message string) {
	header := r.Header.Get(sigv4.HeaderAuthorization)
	if header == "" {
		return "AccessDenied", "Anonymous access is not allowed"
	}

	auth, err := parseAuthorization(header)
	if err != nil {
		return "AuthorizationHeaderMalformed", err.Error()
	}

	secret, ok := s.secrets[auth.accessKeyID]
	if !ok {
		return "InvalidAccessKeyId", "The AWS Access Key Id you provided does not exist in our records."
	}
	if auth.region != s.region {
		return "AuthorizationHeaderMalformed", "the region '" + auth.region + "' is wrong; expecting '" + s.region + "'"
	}

	ts, err := time.Parse("20060102T150405Z", r.Header.Get(sigv4.HeaderDate))
	if err != nil {
		return "AccessDenied", "missing or malformed " + sigv4.HeaderDate
	}
	skew := s.clock().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxRequestSkew {
		return "RequestTimeTooSkewed", "The difference between the request time and the current time is too large."
	}

	extra := http.Header{}
	for _, name := range auth.signedHeaders {
		switch name {
		case "host", "x-amz-date", "x-amz-content-sha256", "x-amz-security-token":
			continue
		}
		extra[http.CanonicalHeaderKey(name)] = r.Header.Values(name)
	}

	signer := &sigv4.Signer{Service: auth.service, MaxSkew: -1}
	want, err := signer.Sign(sigv4.Request{
		Method:      r.Method,
		Host:        r.Host,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		Headers:     extra,
		PayloadHash: r.Header.Get(sigv4.HeaderContentSHA256),
	}, sigv4.Credentials{
		AccessKeyID:     auth.accessKeyID,
		SecretAccessKey: secret,
		SessionToken:    r.Header.Get(sigv4.HeaderSecurityToken),
	}, auth.region, ts)
	if err != nil {
		return "SignatureDoesNotMatch", err.Error()
	}

	if want.Get(sigv4.HeaderAuthorization) != header {
		return "SignatureDoesNotMatch", "The request signature we calculated does not match the signature you provided."
	}
	return "", ""
}
