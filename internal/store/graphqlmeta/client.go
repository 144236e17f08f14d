// Package graphqlmeta implements store.Store over a GraphQL metadata API,
// using the same authenticated/debug-logging HTTP transport chain the
// teacher builds in api.NewClient.
package graphqlmeta

import (
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"os"
	"time"

	"github.com/Khan/genqlient/graphql"
)

// NewClient builds a graphql.Client authenticated with token against
// endpoint, logging full request/response dumps when DEBUG is set in the
// environment — identical behavior to the teacher's api.NewClient.
func NewClient(token, endpoint string) graphql.Client {
	httpClient := http.Client{
		Timeout: 60 * time.Second,
		Transport: newLogTransport(&authedTransport{
			key:     token,
			wrapped: http.DefaultTransport,
		}),
	}
	return graphql.NewClient(endpoint, &httpClient)
}

type authedTransport struct {
	key     string
	wrapped http.RoundTripper
}

func (t *authedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqBodyClosed := false
	if req.Body != nil {
		defer func() {
			if !reqBodyClosed {
				req.Body.Close()
			}
		}()
	}

	reqCopy := req.Clone(req.Context())
	reqCopy.Header.Set("Authorization", "Bearer "+t.key)

	reqBodyClosed = true
	return t.wrapped.RoundTrip(reqCopy)
}

type logTransport struct {
	inner http.RoundTripper
}

func newLogTransport(inner http.RoundTripper) http.RoundTripper {
	return &logTransport{inner}
}

func (t *logTransport) RoundTrip(in *http.Request) (out *http.Response, err error) {
	if _, ok := os.LookupEnv("DEBUG"); !ok {
		return t.inner.RoundTrip(in)
	}

	log.Printf("--> %s %s", in.Method, in.URL)

	inCopy := in
	if in.Header != nil && in.Header.Get("authorization") != "" {
		inCopy = in.Clone(in.Context())
		inCopy.Header.Set("authorization", "<redacted>")
	}

	b, dumpErr := httputil.DumpRequestOut(inCopy, true)
	if dumpErr != nil {
		log.Printf("failed to dump request %s %s: %v", in.Method, in.URL, dumpErr)
	} else if len(b) > 0 {
		log.Println(string(b))
	}

	start := time.Now()
	out, err = t.inner.RoundTrip(in)
	duration := time.Since(start)
	if err != nil {
		log.Printf("<-- %v %s %s (%s)", err, in.Method, in.URL, duration)
		return
	}
	if out == nil {
		return
	}

	msg := fmt.Sprintf("<-- %d", out.StatusCode)
	if out.Request != nil {
		msg = fmt.Sprintf("%s %s", msg, out.Request.URL)
	}
	log.Printf("%s (%s)", msg, duration)

	b, dumpErr = httputil.DumpResponse(out, true)
	if dumpErr != nil {
		log.Printf("failed to dump response %s %s: %v", in.Method, in.URL, dumpErr)
	} else if len(b) > 0 {
		log.Println(string(b))
	}
	return
}
