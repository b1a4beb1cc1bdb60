package export

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/csv"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/agentwatch/agentwatch/pkg/models"
)

var reportDay = time.Date(2026, 3, 10, 0, 15, 0, 0, time.UTC)

func testWindow() models.CostWindow {
	return models.CostWindow{
		Period:       models.PeriodDaily,
		StartTime:    reportDay.Add(-24 * time.Hour),
		EndTime:      reportDay,
		TotalCostUSD: decimal.RequireFromString("40"),
		SampleCount:  3,
		PerEntityCost: map[string]decimal.Decimal{
			"agent-b": decimal.RequireFromString("10"),
			"agent-a": decimal.RequireFromString("30"),
		},
	}
}

type stubCosts struct {
	window models.CostWindow
}

func (s *stubCosts) GetCostSummary(ctx context.Context, period models.Period) models.CostWindow {
	return s.window
}

type recordingUploader struct {
	mu    sync.Mutex
	files map[string]string
	err   error
}

func (r *recordingUploader) Upload(ctx context.Context, remotePath string, body io.Reader) error {
	if r.err != nil {
		return r.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files == nil {
		r.files = make(map[string]string)
	}
	r.files[remotePath] = string(data)
	return nil
}

func TestWriteCostReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCostReport(&buf, testWindow()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, reportHeader, rows[0])
	assert.Equal(t, []string{"2026-03-09T00:15:00Z", "2026-03-10T00:15:00Z", "agent-a", "30.0000", "75.00"}, rows[1])
	assert.Equal(t, "agent-b", rows[2][2])
	assert.Equal(t, "25.00", rows[2][4])
	assert.Equal(t, []string{"2026-03-09T00:15:00Z", "2026-03-10T00:15:00Z", "TOTAL", "40.0000", "100.00"}, rows[3])
}

func TestWriteCostReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCostReport(&buf, models.CostWindow{Period: models.PeriodDaily}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "TOTAL", rows[1][2])
	assert.Equal(t, "0.0000", rows[1][3])
	assert.Equal(t, "0.00", rows[1][4])
}

func TestReportName(t *testing.T) {
	local := time.Date(2026, 3, 10, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	assert.Equal(t, "costs-2026-03-11.csv", ReportName(local))
}

func TestExporter_RunOnce(t *testing.T) {
	up := &recordingUploader{}
	e, err := New(&stubCosts{window: testWindow()}, up,
		WithRemoteDir("/srv/reports"),
		WithTimeFunc(func() time.Time { return reportDay }))
	require.NoError(t, err)

	remotePath, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/srv/reports/costs-2026-03-10.csv", remotePath)
	assert.Contains(t, up.files[remotePath], "agent-a,30.0000,75.00")
}

func TestExporter_UploadFailure(t *testing.T) {
	up := &recordingUploader{err: errors.New("connection refused")}
	e, err := New(&stubCosts{window: testWindow()}, up)
	require.NoError(t, err)

	_, err = e.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestExporter_InvalidSchedule(t *testing.T) {
	_, err := New(&stubCosts{}, &recordingUploader{}, WithSchedule("not a schedule"))
	assert.Error(t, err)
}

func TestExporter_StartStop(t *testing.T) {
	e, err := New(&stubCosts{}, &recordingUploader{})
	require.NoError(t, err)

	require.NoError(t, e.Start())
	require.NoError(t, e.Start())
	e.Stop()
	e.Stop()
}

func TestCredentials_Validate(t *testing.T) {
	valid := Credentials{Host: "reports.local", Port: 22, User: "reports", PrivateKey: []byte("key")}
	tests := []struct {
		name    string
		mutate  func(c *Credentials)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Credentials) {}},
		{name: "missing host", mutate: func(c *Credentials) { c.Host = "" }, wantErr: "host"},
		{name: "bad port", mutate: func(c *Credentials) { c.Port = 70000 }, wantErr: "port"},
		{name: "missing user", mutate: func(c *Credentials) { c.User = "" }, wantErr: "user"},
		{name: "missing key", mutate: func(c *Credentials) { c.PrivateKey = nil }, wantErr: "private key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSFTPUploader_InvalidPrivateKey(t *testing.T) {
	u, err := NewSFTPUploader(Credentials{Host: "127.0.0.1", Port: 22, User: "reports", PrivateKey: []byte("not a key")})
	require.NoError(t, err)

	err = u.Upload(context.Background(), "/tmp/report.csv", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse private key")
}

// startSFTPServer serves the local filesystem over SFTP for a single
// authorized key and returns its address
func startSFTPServer(t *testing.T, authorized ssh.PublicKey) (string, int) {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unauthorized key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveSFTPConn(conn, config)
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveSFTPConn(conn net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		go func(in <-chan *ssh.Request) {
			for req := range in {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				req.Reply(ok, nil)
			}
		}(requests)

		server, err := sftp.NewServer(channel)
		if err != nil {
			channel.Close()
			continue
		}
		go func() {
			server.Serve()
			server.Close()
		}()
	}
}

func TestSFTPUploader_Upload(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	host, port := startSFTPServer(t, sshPub)

	u, err := NewSFTPUploader(Credentials{
		Host:       host,
		Port:       port,
		User:       "reports",
		PrivateKey: pem.EncodeToMemory(block),
	}, WithConnectTimeout(5*time.Second))
	require.NoError(t, err)

	dir := t.TempDir()
	remotePath := filepath.ToSlash(filepath.Join(dir, "nested", "costs-2026-03-10.csv"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, u.Upload(ctx, remotePath, strings.NewReader("period_start,total\n")))

	data, err := os.ReadFile(filepath.FromSlash(remotePath))
	require.NoError(t, err)
	assert.Equal(t, "period_start,total\n", string(data))

	_, err = os.Stat(filepath.FromSlash(remotePath) + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestSFTPUploader_RejectedKey(t *testing.T) {
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	authorized, err := ssh.NewPublicKey(otherPub)
	require.NoError(t, err)
	host, port := startSFTPServer(t, authorized)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	u, err := NewSFTPUploader(Credentials{Host: host, Port: port, User: "reports", PrivateKey: pem.EncodeToMemory(block)},
		WithConnectTimeout(5*time.Second))
	require.NoError(t, err)

	err = u.Upload(context.Background(), "/tmp/never.csv", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
}
