package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
)

func (c *cli) newReceiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Work with signed test receipts",
	}
	cmd.AddCommand(c.newReceiptVerifyCmd())
	return cmd
}

type receiptCheck struct {
	Contract     string `json:"contract"`
	Outcome      string `json:"outcome"`
	KeyID        string `json:"key_id"`
	Valid        bool   `json:"valid"`
	TauViolation bool   `json:"tau_violation"`
	Error        string `json:"error,omitempty"`
}

func (c *cli) newReceiptVerifyCmd() *cobra.Command {
	var publicKey string
	cmd := &cobra.Command{
		Use:   "verify <receipt.json>",
		Short: "Verify a receipt's signature against a trusted key",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			r, err := readReceipt(args[0])
			if err != nil {
				return err
			}

			var kr *crypto.Keyring
			if publicKey != "" {
				pub, err := crypto.ParsePublicKey(publicKey)
				if err != nil {
					return err
				}
				kr = crypto.NewKeyring()
				kr.AddPublicKey(r.KeyID(), pub)
			} else if kr, err = c.trustedKeys(); err != nil {
				return err
			}
			if kr == nil {
				return errors.New("no key to verify with: pass --public-key or configure ledger.trusted_keys")
			}

			check := receiptCheck{
				Contract:     r.ContractName(),
				Outcome:      string(r.Outcome()),
				KeyID:        r.KeyID(),
				TauViolation: r.TauViolation(),
			}
			valid, verr := r.Verify(kr)
			check.Valid = valid && verr == nil
			if verr != nil {
				check.Error = verr.Error()
			}

			if c.jsonOutput {
				if err := c.outputJSON(check); err != nil {
					return err
				}
			} else {
				c.printf("%s %s key=%s valid=%t\n", check.Contract, check.Outcome, check.KeyID, check.Valid)
			}
			if !check.Valid {
				if verr != nil {
					return &checkFailed{err: verr}
				}
				return failed("signature of %q does not verify", r.ContractName())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&publicKey, "public-key", "", "hex Ed25519 public key for the receipt's key ID")
	return cmd
}
