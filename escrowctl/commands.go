package main

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new account key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"address":     crypto.PubkeyToAddress(key.PublicKey).Hex(),
				"private_key": hex.EncodeToString(crypto.FromECDSA(key)),
			})
		},
	}
}

// predict works offline from --creator and --nonce, or asks the node for the
// next unit of --registry
func predictCmd() *cobra.Command {
	var creator, registry string
	var nonce uint64
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the address of the next created object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if registry != "" {
				addr, err := parseAddress(registry)
				if err != nil {
					return err
				}
				p, err := ledger.Predict(cmd.Context(), addr)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			}
			addr, err := parseAddress(creator)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"creator": addr,
				"nonce":   nonce,
				"address": settlement.PredictAddress(addr, nonce),
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator address")
	cmd.Flags().Uint64Var(&nonce, "nonce", 1, "creator nonce")
	cmd.Flags().StringVar(&registry, "registry", "", "registry whose next unit to look up on the node")
	cmd.MarkFlagsOneRequired("creator", "registry")
	cmd.MarkFlagsMutuallyExclusive("creator", "registry")
	return cmd
}

func deployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a registry owned by the sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, &settlement.Tx{Type: settlement.TxDeployRegistry})
		},
	}
}

func createItemCmd() *cobra.Command {
	var registry, price, title string
	cmd := &cobra.Command{
		Use:   "create-item",
		Short: "List a new item on a registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(registry)
			if err != nil {
				return err
			}
			return send(cmd, &settlement.Tx{Type: settlement.TxCreateItem, To: addr, Price: price, Title: title})
		},
	}
	cmd.Flags().StringVar(&registry, "registry", "", "registry address")
	cmd.Flags().StringVar(&price, "price", "", "item price")
	cmd.Flags().StringVar(&title, "title", "", "item title")
	_ = cmd.MarkFlagRequired("registry")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

// pay sends the unit's own price unless --amount overrides it
func payCmd() *cobra.Command {
	var unit, amount string
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Pay for an item by transferring to its settlement unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(unit)
			if err != nil {
				return err
			}
			if amount == "" {
				u, err := ledger.Unit(cmd.Context(), addr)
				if err != nil {
					return fmt.Errorf("look up price: %w", err)
				}
				amount = u.Price
			}
			return send(cmd, &settlement.Tx{Type: settlement.TxTransfer, To: addr, Value: amount})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "settlement unit address")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to transfer (default: the item price)")
	_ = cmd.MarkFlagRequired("unit")
	return cmd
}

func deliverCmd() *cobra.Command {
	var registry string
	var index uint64
	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Mark a paid item as delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(registry)
			if err != nil {
				return err
			}
			return send(cmd, &settlement.Tx{Type: settlement.TxTriggerDelivery, To: addr, Index: index})
		},
	}
	cmd.Flags().StringVar(&registry, "registry", "", "registry address")
	cmd.Flags().Uint64Var(&index, "index", 0, "item index")
	_ = cmd.MarkFlagRequired("registry")
	return cmd
}

func itemCmd() *cobra.Command {
	var registry string
	var index uint64
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Show a catalogue entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(registry)
			if err != nil {
				return err
			}
			entry, err := ledger.Item(cmd.Context(), addr, index)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"registry": entry.Registry,
				"index":    entry.Index,
				"unit":     entry.Unit,
				"state":    entry.State.String(),
				"price":    entry.Price,
				"title":    entry.Title,
			})
		},
	}
	cmd.Flags().StringVar(&registry, "registry", "", "registry address")
	cmd.Flags().Uint64Var(&index, "index", 0, "item index")
	_ = cmd.MarkFlagRequired("registry")
	return cmd
}

func send(cmd *cobra.Command, tx *settlement.Tx) error {
	key, err := senderKey()
	if err != nil {
		return err
	}
	res, err := ledger.Send(cmd.Context(), key, tx)
	if err != nil {
		return err
	}
	if err := printJSON(cmd, res.SubmitTxResponse); err != nil {
		return err
	}
	if res.Reverted() {
		return fmt.Errorf("transaction reverted: %s", res.Result)
	}
	return nil
}

func senderKey() (*ecdsa.PrivateKey, error) {
	s := viper.GetString("key")
	if s == "" {
		return nil, fmt.Errorf("sender key required (--key or ESCROWCTL_KEY)")
	}
	if len(s) > 2 && s[:2] == "0x" {
		s = s[2:]
	}
	return crypto.HexToECDSA(s)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
