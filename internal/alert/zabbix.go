package alert

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

const (
	zabbixTimeout    = 5 * time.Second
	zabbixHeaderSize = 13 // magic (5) + little-endian payload length (8)
	zabbixMaxReply   = 64 << 10
)

var zabbixMagic = []byte("ZBXD\x01")

// zabbixInfo matches the counters in a trapper reply such as
// "processed: 1; failed: 0; total: 1; seconds spent: 0.000055".
var zabbixInfo = regexp.MustCompile(`processed: (\d+); failed: (\d+)`)

type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// writeZabbixFrame writes payload with the sender protocol header.
func writeZabbixFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, zabbixHeaderSize, zabbixHeaderSize+len(payload))
	copy(frame, zabbixMagic)
	binary.LittleEndian.PutUint64(frame[len(zabbixMagic):], uint64(len(payload)))
	_, err := w.Write(append(frame, payload...))
	return err
}

// readZabbixFrame reads one framed message of at most limit bytes.
func readZabbixFrame(r io.Reader, limit uint64) ([]byte, error) {
	header := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !bytes.HasPrefix(header, zabbixMagic) {
		return nil, errors.New("not a zabbix frame")
	}
	n := binary.LittleEndian.Uint64(header[len(zabbixMagic):])
	switch {
	case n == 0:
		return nil, errors.New("empty zabbix frame")
	case n > limit:
		return nil, fmt.Errorf("zabbix frame of %d bytes exceeds %d", n, limit)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// checkZabbixReply turns a trapper reply into an error when nothing was stored.
func checkZabbixReply(resp zabbixResponse) error {
	if resp.Response != "success" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}
	m := zabbixInfo.FindStringSubmatch(resp.Info)
	if m == nil {
		return nil
	}
	processed, _ := strconv.Atoi(m[1])
	failed, _ := strconv.Atoi(m[2])
	switch {
	case failed > 0:
		return fmt.Errorf("zabbix failed %d item(s) (check the item type is trapper)", failed)
	case processed == 0:
		// Unknown host/key pairs are accepted but silently dropped.
		return errors.New("zabbix processed no items (check host/key config)")
	}
	return nil
}

// sendZabbixValue pushes one trapper value and verifies it was processed.
func sendZabbixValue(server string, port int, host, key, value string) error {
	payload, err := json.Marshal(zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: host, Key: key, Value: value}},
	})
	if err != nil {
		return util.WrapError("encode zabbix request", err)
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(server, strconv.Itoa(port)), zabbixTimeout)
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer util.SafeCloseFunc(conn, "zabbix connection")()
	if err := conn.SetDeadline(time.Now().Add(zabbixTimeout)); err != nil {
		return util.WrapError("set zabbix deadline", err)
	}

	if err := writeZabbixFrame(conn, payload); err != nil {
		return util.WrapError("send zabbix request", err)
	}
	reply, err := readZabbixFrame(conn, zabbixMaxReply)
	if err != nil {
		return util.WrapError("read zabbix reply", err)
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}
	return checkZabbixReply(resp)
}

// zabbixEvent sends value when the channel is configured and is a no-op otherwise.
func zabbixEvent(server string, port int, host, key, value string) error {
	if !util.IsConfigured(server, host, key) {
		return nil
	}
	return sendZabbixValue(server, port, host, key, value)
}

// SendLevelHighZabbix reports the start of an episode.
func SendLevelHighZabbix(server string, port int, host, key string, levelDB, targetDB float64) error {
	return zabbixEvent(server, port, host, key,
		fmt.Sprintf("event=LEVEL_HIGH level=%.1f target=%.1f", levelDB, targetDB))
}

// SendRecoveryZabbix reports the end of an episode.
func SendRecoveryZabbix(server string, port int, host, key string, durationMs int64, levelDB, targetDB float64) error {
	return zabbixEvent(server, port, host, key,
		fmt.Sprintf("event=RECOVERY duration_ms=%d level=%.1f target=%.1f", durationMs, levelDB, targetDB))
}

// SendTestZabbix sends a test value. Unlike alerts it fails when unconfigured.
func SendTestZabbix(server string, port int, host, key string) error {
	if !util.IsConfigured(server, host, key) {
		return errors.New("zabbix server, host and key are required")
	}
	return sendZabbixValue(server, port, host, key, "event=TEST source=zwfm-levelmeter")
}
