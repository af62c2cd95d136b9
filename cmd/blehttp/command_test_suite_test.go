package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite resets command state and provides an HTTP origin for
// loopback transfers. All cmd/blehttp suites embed it.
type CommandTestSuite struct {
	suite.Suite
	origin *httptest.Server
	body   string
	dir    string
}

func (s *CommandTestSuite) SetupTest() {
	s.body = strings.Repeat("0123456789", 7) + "!"
	s.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, s.body)
	}))

	dir, err := os.MkdirTemp("", "bh")
	s.Require().NoError(err)
	s.dir = dir

	sendSecure, sendLoopback, sendQuiet = false, false, false
	sendPeer, sendRole = "", ""
	sendTimeout = 0
	postSecure, postSocket, postTimeout = false, "", time.Minute
	for _, name := range []string{"log-level", "config"} {
		_ = rootCmd.PersistentFlags().Set(name, "")
	}
	_ = rootCmd.PersistentFlags().Set("verbose", "false")
}

func (s *CommandTestSuite) TearDownTest() {
	s.origin.Close()
	_ = os.RemoveAll(s.dir)
}

// RequestFile writes a GET request for path on the origin and returns its file name.
func (s *CommandTestSuite) RequestFile(path string) string {
	host := strings.TrimPrefix(s.origin.URL, "http://")
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", path, host)
	name := filepath.Join(s.dir, "request.txt")
	s.Require().NoError(os.WriteFile(name, []byte(req), 0o600))
	return name
}

// ExecuteCommand runs a cobra command with args, returns stdout, stderr and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
