package api

import (
	"bytes"
	"compress/gzip"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

type bufferedWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.buf.WriteString(s)
}

// CompressMiddleware encodes response bodies with brotli or gzip depending
// on Accept-Encoding. Brotli wins when both are accepted.
func CompressMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		encoding := selectEncoding(c.GetHeader("Accept-Encoding"))
		if encoding == "" {
			c.Next()
			return
		}
		orig := c.Writer
		bw := &bufferedWriter{ResponseWriter: orig}
		c.Writer = bw
		c.Next()
		c.Writer = orig

		body := bw.buf.Bytes()
		if len(body) == 0 {
			return
		}
		switch encoding {
		case "br":
			body = brotliCompress(body)
		case "gzip":
			body = gzipCompress(body)
		}
		orig.Header().Set("Content-Encoding", encoding)
		orig.Header().Add("Vary", "Accept-Encoding")
		orig.Header().Del("Content-Length")
		_, _ = orig.Write(body)
	}
}

func selectEncoding(accept string) string {
	accept = strings.ToLower(accept)
	if strings.Contains(accept, "br") {
		return "br"
	}
	if strings.Contains(accept, "gzip") {
		return "gzip"
	}
	return ""
}

func brotliCompress(data []byte) []byte {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, _ = bw.Write(data)
	_ = bw.Close()
	return buf.Bytes()
}

func gzipCompress(data []byte) []byte {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write(data)
	_ = gw.Close()
	return buf.Bytes()
}
