// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// execHandler receives the session channel and the command string of one
// exec request. It owns the channel and decides whether the command reports
// an exit status or stalls.
type execHandler func(ch ssh.Channel, command string)

// startServer runs a minimal in-process SSH server accepting every client
// and dispatching exec requests to handle. Returns the listen address.
func startServer(t *testing.T, handle execHandler) string {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	config := &ssh.ServerConfig{NoClientAuth: true} //nolint:exhaustruct
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, config, handle)
		}
	}()

	return listener.Addr().String()
}

func serveConn(conn net.Conn, config *ssh.ServerConfig, handle execHandler) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer runFuncAndLogErr(serverConn.Close)
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "session channels only")
			continue
		}

		ch, chReqs, err := newChan.Accept()
		if err != nil {
			continue
		}

		go func() {
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				_ = req.Reply(true, nil)
				handle(ch, execCommand(req.Payload))
			}
		}()
	}
}

// execCommand extracts the command string from an exec request payload
// (uint32 length followed by the command bytes).
func execCommand(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if uint32(len(payload)-4) < n {
		return ""
	}
	return string(payload[4 : 4+n])
}

func sendExitStatus(ch ssh.Channel, status uint32) {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], status)
	_, _ = ch.SendRequest("exit-status", false, payload[:])
	_ = ch.Close()
}

func writeTestKey(t *testing.T) string {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(key, "")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))
	return keyPath
}

func connectedClient(t *testing.T, addr string) *Client {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	client, err := NewClient(host, "student", writeTestKey(t), port)
	require.NoError(t, err)
	return client
}

func TestRun_CompletedCommand(t *testing.T) {
	addr := startServer(t, func(ch ssh.Channel, command string) {
		_, _ = ch.Write([]byte("ran " + command + "\n"))
		_, _ = ch.Stderr().Write([]byte("some warning\n"))
		sendExitStatus(ch, 0)
	})

	client := connectedClient(t, addr)

	res, err := client.Run("hostname", RunOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)

	require.NotNil(t, res.ExitStatus)
	assert.Equal(t, 0, *res.ExitStatus)
	assert.Contains(t, res.Stdout, "ran hostname")
	assert.Contains(t, res.Stderr, "some warning")
	assert.Empty(t, res.Err)
	assert.False(t, res.TimedOut())
}

func TestRun_NonZeroExitStatus(t *testing.T) {
	addr := startServer(t, func(ch ssh.Channel, _ string) {
		_, _ = ch.Stderr().Write([]byte("no such unit\n"))
		sendExitStatus(ch, 3)
	})

	client := connectedClient(t, addr)

	res, err := client.Run("systemctl is-active nope", RunOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)

	// A non-zero exit status is part of the Result, never an error.
	require.NotNil(t, res.ExitStatus)
	assert.Equal(t, 3, *res.ExitStatus)
	assert.Contains(t, res.Stderr, "no such unit")
	assert.False(t, res.TimedOut())
}

func TestRun_TimeoutPreservesPartialOutput(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	addr := startServer(t, func(ch ssh.Channel, _ string) {
		// Emit output, then stall without ever reporting an exit status.
		_, _ = ch.Write([]byte("partial output\n"))
		<-release
	})

	client := connectedClient(t, addr)

	res, err := client.Run("sleep 3600", RunOptions{Timeout: 500 * time.Millisecond})
	require.NoError(t, err)

	assert.Nil(t, res.ExitStatus)
	assert.True(t, res.TimedOut())
	assert.Contains(t, res.Err, "timed out after")
	assert.Contains(t, res.Stdout, "partial output")
}

func TestAwaitServer_SucceedsOnceListening(t *testing.T) {
	addr := startServer(t, func(ch ssh.Channel, _ string) {
		sendExitStatus(ch, 0)
	})

	client := connectedClient(t, addr)

	require.NoError(t, client.AwaitServer(5*time.Second, 50*time.Millisecond))
}
