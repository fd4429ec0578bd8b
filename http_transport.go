package rpccore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// HTTPClient is the minimal surface httpTransport needs from an HTTP
// client, matching connect-go's own escape hatch so callers can plug in
// instrumented or h2c-configured *http.Client values without this package
// depending on net/http's zero-value defaults.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpTransport is the default Transport, driving calls over an
// HTTPClient. It implements neither TLS configuration nor HTTP/2
// negotiation itself; both are the HTTPClient's responsibility, consistent
// with this package treating the wire transport as an external
// collaborator.
type httpTransport struct {
	client HTTPClient
}

// NewHTTPTransport wraps client as a Transport. Pass an *http.Client
// configured for h2c or TLS as needed; httpTransport itself is protocol
// agnostic.
func NewHTTPTransport(client HTTPClient) Transport {
	return &httpTransport{client: client}
}

func (t *httpTransport) Unary(ctx context.Context, req *TransportRequest, body []byte) (*TransportUnaryResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build unary request")
	}
	httpReq.Header = req.Headers.ToHTTP()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, wrapIfContextError(errors.Wrap(wrapIfLikelyH2CNotConfiguredError(httpReq, err), "unary round trip"))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read unary response body")
	}
	return &TransportUnaryResponse{
		StatusCode: resp.StatusCode,
		Headers:    HeadersFromHTTP(resp.Header),
		Trailers:   HeadersFromHTTP(resp.Trailer),
		Body:       respBody,
	}, nil
}

func (t *httpTransport) NewStream(ctx context.Context, req *TransportRequest) (TransportStream, error) {
	reader, writer := io.Pipe()
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build stream request")
	}
	httpReq.Header = req.Headers.ToHTTP()

	stream := &httpTransportStream{
		pipeWriter: writer,
		headerCh:   make(chan struct{}),
	}
	go stream.run(t.client, httpReq)
	return stream, nil
}

// wrapIfLikelyH2CNotConfiguredError annotates err with a pointer toward a
// missing h2c round tripper when its text matches the shape net/http
// produces for that specific misconfiguration: a plain http.Client{} talking
// to a gRPC-only server over what it believes is HTTP/1.1. Textual and
// fragile by nature, since net/http never gives this failure a distinct
// type; narrowed to POST requests over a plaintext "http" URL to keep false
// positives rare.
func wrapIfLikelyH2CNotConfiguredError(req *http.Request, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := asError(err); ok {
		return err
	}
	if url := req.URL; url != nil && url.Scheme != "http" {
		return err
	}
	if errString := err.Error(); strings.HasPrefix(errString, `Post "`) &&
		(strings.Contains(errString, "net/http: HTTP/1.x transport connection broken: malformed HTTP response") ||
			strings.HasSuffix(errString, "write: broken pipe")) {
		return fmt.Errorf("possible h2c configuration issue: server appears to speak HTTP/2 over cleartext but the HTTPClient was not configured for h2c: %w", err)
	}
	return err
}

// httpTransportStream drives one duplex HTTP exchange: writes go through an
// io.Pipe into the request body goroutine-fed to http.Client.Do, reads come
// from the response body once it arrives. Grounded on the same
// write-half/read-half split connect-go's duplexHTTPCall uses to let gRPC
// and gRPC-Web trickle a request while already reading a response.
type httpTransportStream struct {
	pipeWriter *io.PipeWriter

	headerCh   chan struct{}
	resp       *http.Response
	headerErr  error

	trailers *Headers
}

func (s *httpTransportStream) run(client HTTPClient, req *http.Request) {
	resp, err := client.Do(req)
	if err != nil {
		s.headerErr = wrapIfContextError(errors.Wrap(wrapIfLikelyH2CNotConfiguredError(req, err), "stream round trip"))
		close(s.headerCh)
		return
	}
	s.resp = resp
	close(s.headerCh)
}

func (s *httpTransportStream) Send(frame []byte) error {
	if _, err := s.pipeWriter.Write(frame); err != nil {
		return errors.Wrap(err, "write stream frame")
	}
	return nil
}

func (s *httpTransportStream) CloseSend() error {
	return s.pipeWriter.Close()
}

func (s *httpTransportStream) Header() (*Headers, int, error) {
	<-s.headerCh
	if s.headerErr != nil {
		return nil, 0, s.headerErr
	}
	return HeadersFromHTTP(s.resp.Header), s.resp.StatusCode, nil
}

func (s *httpTransportStream) Recv() ([]byte, error) {
	<-s.headerCh
	if s.headerErr != nil {
		return nil, s.headerErr
	}
	buf := make([]byte, 32*1024)
	n, err := s.resp.Body.Read(buf)
	if err == io.EOF {
		s.trailers = HeadersFromHTTP(s.resp.Trailer)
	}
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

func (s *httpTransportStream) Trailer() *Headers {
	if s.trailers == nil {
		return NewHeaders()
	}
	return s.trailers
}

// TracingInfo always returns nil: httpTransport does no tracing of its own,
// leaving the field for a caller's own instrumented HTTPClient to populate
// via a wrapping Transport.
func (s *httpTransportStream) TracingInfo() any { return nil }

func (s *httpTransportStream) CloseRecv() error {
	<-s.headerCh
	var merr *multierror.Error
	if s.headerErr != nil {
		merr = multierror.Append(merr, s.headerErr)
	}
	if s.resp != nil {
		if err := s.resp.Body.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("close response body: %w", err))
		}
	}
	return merr.ErrorOrNil()
}
