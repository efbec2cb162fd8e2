// Package jwt implements the generate-jwt-secret subcommand, grounded
// on the teacher's cmd/beacon-chain/jwt/jwt.go.
package jwt

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var log = logrus.WithField("prefix", "jwt")

// Commands is the generate-jwt-secret subcommand, written to
// jwt.secret in the current directory for use with --jwt-secret.
var Commands = &cli.Command{
	Name:        "generate-jwt-secret",
	Usage:       "creates a random 32 byte hex string in a jwt.secret plaintext file in the current directory",
	Description: `creates a random 32 byte hex string in a jwt.secret plaintext file in the current directory, for use as --jwt-secret with an execution client speaking the Engine API`,
	Action: func(cliCtx *cli.Context) error {
		if err := generateHTTPSecretInFile(); err != nil {
			log.WithError(err).Error("Could not generate secret")
			return err
		}
		return nil
	},
}

func generateHTTPSecretInFile() error {
	const jwtFileName = "jwt.secret"
	f, err := os.Create(jwtFileName)
	if err != nil {
		return err
	}
	defer f.Close()

	secret, err := generateRandom32ByteHexString()
	if err != nil {
		return err
	}
	if _, err := f.WriteString(secret); err != nil {
		return err
	}

	jwtPath, err := filepath.Abs(jwtFileName)
	if err != nil {
		return err
	}
	fmt.Println("JWT secret file path:", jwtPath)
	return nil
}

func generateRandom32ByteHexString() (string, error) {
	raw := make([]byte, 32)
	n, err := rand.Read(raw)
	if err != nil {
		return "", err
	}
	if n != len(raw) {
		return "", fmt.Errorf("jwt: short read generating secret: got %d of %d bytes", n, len(raw))
	}
	return hexutil.Encode(raw)[2:], nil
}
