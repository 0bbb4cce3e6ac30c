package kv

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// redisServer speaks enough RESP2 for the redis store: PING, GET, SET and
// DEL. HELLO and CLIENT are refused so the client falls back to RESP2.
type redisServer struct {
	ln net.Listener
	wg sync.WaitGroup

	mu    sync.Mutex
	data  map[string][]byte
	conns map[net.Conn]struct{}
}

func newRedisServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &redisServer{ln: ln, data: make(map[string][]byte), conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() {
		_ = ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return ln.Addr().String()
}

func (s *redisServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { _ = conn.Close() }()
			s.handle(conn)
		}()
	}
}

func (s *redisServer) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		args, err := readRedisCommand(r)
		if err != nil || len(args) == 0 {
			return
		}
		if _, err := conn.Write(s.exec(args)); err != nil {
			return
		}
	}
}

func readRedisCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected request line %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, n)
	for range n {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func (s *redisServer) exec(args []string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		return []byte("+PONG\r\n")
	case "GET":
		v, ok := s.data[args[1]]
		if !ok {
			return []byte("$-1\r\n")
		}
		return fmt.Appendf(nil, "$%d\r\n%s\r\n", len(v), v)
	case "SET":
		s.data[args[1]] = []byte(args[2])
		return []byte("+OK\r\n")
	case "DEL":
		n := 0
		for _, k := range args[1:] {
			if _, ok := s.data[k]; ok {
				delete(s.data, k)
				n++
			}
		}
		return fmt.Appendf(nil, ":%d\r\n", n)
	}
	return fmt.Appendf(nil, "-ERR unknown command '%s'\r\n", args[0])
}

// s3Server is a path-style S3 endpoint holding buckets in memory. It serves
// the bucket and object calls the object store makes with anonymous
// credentials.
type s3Server struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

func newS3Server(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(&s3Server{buckets: make(map[string]map[string][]byte)})
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func (s *s3Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()

	objects, exists := s.buckets[bucket]
	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !exists {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			if !exists {
				s.buckets[bucket] = make(map[string][]byte)
			}
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
		return
	}
	if !exists {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket", bucket, key)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody", bucket, key)
			return
		}
		objects[key] = data
		w.Header().Set("ETag", etag(data))
	case http.MethodGet, http.MethodHead:
		data, ok := objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey", bucket, key)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("ETag", etag(data))
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func writeS3Error(w http.ResponseWriter, status int, code, bucket, key string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>%s</Code><Message>%s</Message><BucketName>%s</BucketName><Key>%s</Key></Error>`, code, code, bucket, key)
}
