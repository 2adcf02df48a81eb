package tcpsplice

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendConnectRequestFormatAndSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	origDst := &net.TCPAddr{IP: net.ParseIP("93.184.216.34"), Port: 80}

	var gotRequest string
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		line, _ := r.ReadString('\n')
		gotRequest += line
		for {
			l, err := r.ReadString('\n')
			gotRequest += l
			if err != nil || l == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	err = sendConnectRequest(conn, origDst)
	<-done
	require.NoError(t, err)
	assert.Equal(t, "CONNECT 93.184.216.34:80 HTTP/1.1\r\nHost: 93.184.216.34:80\r\n\r\n", gotRequest)
}

func TestSendConnectRequestRejectsNon200(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		bufio.NewReader(conn).ReadString('\n')
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	origDst := &net.TCPAddr{IP: net.ParseIP("93.184.216.34"), Port: 80}
	err = sendConnectRequest(conn, origDst)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "refused"))
}
