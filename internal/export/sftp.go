package export

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DefaultConnectTimeout is the default timeout for establishing SSH connections
	DefaultConnectTimeout = 30 * time.Second
)

// Credentials holds SSH connection details for the report host
type Credentials struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte // PEM-encoded private key
}

// Validate checks that the credentials have all required fields
func (c *Credentials) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if len(c.PrivateKey) == 0 {
		return fmt.Errorf("private key cannot be empty")
	}
	return nil
}

// SFTPUploader writes report files to a remote host over SFTP
type SFTPUploader struct {
	creds           Credentials
	connectTimeout  time.Duration
	hostKeyCallback ssh.HostKeyCallback
}

// SFTPOption configures an SFTPUploader
type SFTPOption func(*SFTPUploader)

// WithConnectTimeout sets the connection timeout
func WithConnectTimeout(d time.Duration) SFTPOption {
	return func(u *SFTPUploader) {
		u.connectTimeout = d
	}
}

// WithHostKeyCallback sets how the remote host key is verified
func WithHostKeyCallback(cb ssh.HostKeyCallback) SFTPOption {
	return func(u *SFTPUploader) {
		u.hostKeyCallback = cb
	}
}

// WithKnownHosts verifies the remote host key against a known_hosts file
func WithKnownHosts(path string) (SFTPOption, error) {
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}
	return WithHostKeyCallback(cb), nil
}

// NewSFTPUploader creates an uploader for creds. Without a host key option
// the remote key is not verified.
func NewSFTPUploader(creds Credentials, opts ...SFTPOption) (*SFTPUploader, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}

	u := &SFTPUploader{
		creds:           creds,
		connectTimeout:  DefaultConnectTimeout,
		hostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	for _, opt := range opts {
		opt(u)
	}

	return u, nil
}

// Upload copies r to remotePath, creating parent directories as needed
func (u *SFTPUploader) Upload(ctx context.Context, remotePath string, r io.Reader) error {
	if remotePath == "" {
		return fmt.Errorf("remote path cannot be empty")
	}

	client, err := u.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}

	// Write to a temporary name and rename so readers never see a partial report
	tmpPath := remotePath + ".part"
	remoteFile, err := sftpClient.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(remoteFile, r)
		done <- err
	}()

	select {
	case err := <-done:
		closeErr := remoteFile.Close()
		if err != nil {
			_ = sftpClient.Remove(tmpPath)
			return fmt.Errorf("failed to copy report: %w", err)
		}
		if closeErr != nil {
			_ = sftpClient.Remove(tmpPath)
			return fmt.Errorf("failed to close remote file: %w", closeErr)
		}
	case <-ctx.Done():
		remoteFile.Close()
		_ = sftpClient.Remove(tmpPath)
		return fmt.Errorf("upload cancelled: %w", ctx.Err())
	}

	if err := sftpClient.PosixRename(tmpPath, remotePath); err != nil {
		_ = sftpClient.Remove(tmpPath)
		return fmt.Errorf("failed to rename remote file: %w", err)
	}
	return nil
}

// connect establishes an SSH connection to the report host
func (u *SFTPUploader) connect(ctx context.Context) (*ssh.Client, error) {
	signer, err := ssh.ParsePrivateKey(u.creds.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            u.creds.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: u.hostKeyCallback,
		Timeout:         u.connectTimeout,
	}

	addr := net.JoinHostPort(u.creds.Host, strconv.Itoa(u.creds.Port))

	dialer := &net.Dialer{Timeout: u.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}
