package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/spf13/cobra"

	"github.com/zostay/go-mailbuild/pgp"
	"github.com/zostay/go-mailbuild/pgp/local"
)

var (
	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate an OpenPGP key for the configured identity",
		Args:  cobra.NoArgs,
		RunE:  RunKeygen,
	}

	keygenName   string
	keygenEmail  string
	keygenOut    string
	keygenPublic string
)

func init() {
	keygenCmd.Flags().StringVar(&keygenName, "name", "", "name on the key (default: the configured identity)")
	keygenCmd.Flags().StringVar(&keygenEmail, "email", "", "address on the key (default: the configured identity)")
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "write the private key to this file instead of standard output")
	keygenCmd.Flags().StringVar(&keygenPublic, "public", "", "also write the public key to this file")
}

// writeKeyFile creates path with mode perm and writes the key with write.
func writeKeyFile(path string, perm os.FileMode, e *openpgp.Entity, write func(io.Writer, *openpgp.Entity) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	err = write(f, e)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func RunKeygen(cmd *cobra.Command, _ []string) error {
	name, email := keygenName, keygenEmail
	if name == "" {
		name = cfg.Identity.Name
	}
	if email == "" {
		email = cfg.Identity.Email
	}

	e, err := local.GenerateKey(name, email, []byte(cfg.Crypto.Passphrase))
	if err != nil {
		return err
	}

	if keygenOut != "" {
		err = writeKeyFile(keygenOut, 0o600, e, local.WriteArmoredPrivateKey)
	} else {
		err = local.WriteArmoredPrivateKey(cmd.OutOrStdout(), e)
	}
	if err != nil {
		return err
	}

	if keygenPublic != "" {
		if err := writeKeyFile(keygenPublic, 0o644, e, local.WriteArmoredPublicKey); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(cmd.ErrOrStderr(), "generated key %s for %s\n", pgp.KeyID(e.PrimaryKey.KeyId), email)
	return err
}
