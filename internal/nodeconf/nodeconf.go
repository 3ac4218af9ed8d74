// Package nodeconf renders the node configuration handed to bitcoind and
// manages the temporary file it lives in.
//
// The content is a fixed template: every invocation produces the same
// bytes. Only the file location differs, so concurrent launchers never
// share a config file.
package nodeconf

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// PruneMiB is the amount of recent block data bitcoind keeps on disk.
	PruneMiB = 5000

	// RPCUser and RPCPassword are dummy credentials for bitcoin-cli.
	// Nothing in nodestrap talks RPC.
	RPCUser     = "bootstrap"
	RPCPassword = "bootstrap"

	// RPCAuthSalt is the salt baked into RPCAuthDigest.
	RPCAuthSalt = "6a3e5f1c0b9d47e28f14a5c3d2e1b0a9"

	// RPCAuthDigest is RPCAuth(RPCUser, RPCAuthSalt, RPCPassword).
	RPCAuthDigest = RPCUser + ":" + RPCAuthSalt + "$d6f829c7155bf90a608b167af040a617b04867ac80003df9e24d243edd8f927c"
)

// Field is one key=value line of the node configuration.
type Field struct {
	Key   string
	Value string
}

// Fields returns the configuration lines in file order.
func Fields() []Field {
	return []Field{
		{Key: "prune", Value: fmt.Sprint(PruneMiB)},
		{Key: "rpcuser", Value: RPCUser},
		{Key: "rpcpassword", Value: RPCPassword},
		{Key: "rpcauth", Value: RPCAuthDigest},
	}
}

// Render returns the configuration file content.
func Render() []byte {
	var buf bytes.Buffer
	for _, f := range Fields() {
		fmt.Fprintf(&buf, "%s=%s\n", f.Key, f.Value)
	}
	return buf.Bytes()
}

// RPCAuth computes a bitcoind rpcauth entry: user:salt$hex(HMAC-SHA256)
// keyed by the salt over the password.
func RPCAuth(user, salt, password string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(password))
	return user + ":" + salt + "$" + hex.EncodeToString(mac.Sum(nil))
}
