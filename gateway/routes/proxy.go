package routes

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NewProxy forwards requests to target after removing the route mount prefix,
// propagating trace context to the upstream.
func NewProxy(target *url.URL, stripPrefix string) http.Handler {
	basePath := strings.TrimSuffix(stripPrefix, "/")
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			path := pr.In.URL.Path
			if basePath != "" {
				path = strings.TrimPrefix(path, basePath)
			}
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			pr.Out.URL.Path = path
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.Out.Host = target.Host
			otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Printf("proxy %s: %v", r.URL.Path, err)
			http.Error(w, "upstream error", http.StatusBadGateway)
		},
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return proxy
}
