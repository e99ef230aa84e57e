package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/client"
	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type RequestResult struct {
	Name        string
	Method      string
	Endpoint    string
	Result      string
	Latency     time.Duration
	BlockHeight int64
}

func main() {
	nodes := flag.Int("nodes", 4, "Number of validator nodes, used in the output file name")
	iterations := flag.Int("n", 1, "Number of iterations to run")
	nodeURL := flag.String("url", "http://127.0.0.1:5000", "Node HTTP address")
	ownerKeyHex := flag.String("owner-key", "", "Hex private key of the registry owner")
	buyerKeyHex := flag.String("buyer-key", "", "Hex private key of a buyer funded in genesis")
	price := flag.String("price", "100", "Price of every benchmark item")
	flag.Parse()

	ownerKey, err := loadKey(*ownerKeyHex)
	if err != nil {
		fmt.Printf("Owner key: %v\n", err)
		return
	}
	buyerKey, err := crypto.HexToECDSA(*buyerKeyHex)
	if err != nil {
		fmt.Printf("Buyer key: %v\n", err)
		return
	}

	filename := fmt.Sprintf("benchmark_n_%d_nodes_%d.csv", *iterations, *nodes)
	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating CSV file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Iteration", "Step", "Method", "Endpoint", "Result", "Latency_ms", "BlockHeight"}
	if err := writer.Write(header); err != nil {
		fmt.Printf("Error writing CSV header: %v\n", err)
		return
	}

	ledger := client.NewLedger(*nodeURL, 45*time.Second)

	for i := 0; i < *iterations; i++ {
		fmt.Printf("\n[Iteration %d/%d]\n", i+1, *iterations)
		results := runBenchmark(ledger, ownerKey, buyerKey, *price)

		for _, result := range results {
			record := []string{
				strconv.Itoa(i + 1),
				result.Name,
				result.Method,
				result.Endpoint,
				result.Result,
				strconv.FormatInt(result.Latency.Milliseconds(), 10),
				strconv.FormatInt(result.BlockHeight, 10),
			}

			if err := writer.Write(record); err != nil {
				fmt.Printf("Error writing record to CSV: %v\n", err)
			}
		}

		time.Sleep(100 * time.Millisecond)
	}

	fmt.Printf("\nBenchmark complete. Results saved to %s\n", filename)
}

// loadKey parses a hex key, generating a throwaway one when s is empty
func loadKey(s string) (*ecdsa.PrivateKey, error) {
	if s == "" {
		return crypto.GenerateKey()
	}
	return crypto.HexToECDSA(s)
}

// runBenchmark walks one item through deploy, create, pay and deliver. It
// stops at the first step that fails or reverts.
func runBenchmark(ledger *client.Ledger, ownerKey, buyerKey *ecdsa.PrivateKey, price string) []RequestResult {
	var results []RequestResult
	ctx := context.Background()
	totalStart := time.Now()

	step := func(name string, key *ecdsa.PrivateKey, tx *settlement.Tx) (*client.Result, bool) {
		start := time.Now()
		res, err := ledger.Send(ctx, key, tx)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("%s failed: %v\n", name, err)
			return nil, false
		}
		results = append(results, RequestResult{
			Name:        name,
			Method:      "POST",
			Endpoint:    "/tx",
			Result:      res.Result,
			Latency:     elapsed,
			BlockHeight: res.BlockHeight,
		})
		fmt.Printf("%-16s %-20s height=%d [Delay: %v]\n", name, res.Result, res.BlockHeight, elapsed)
		return res, !res.Reverted()
	}

	// 1. Deploy Registry
	res, ok := step("Deploy Registry", ownerKey, &settlement.Tx{Type: settlement.TxDeployRegistry})
	if !ok || res.Created == nil {
		return results
	}
	registry := *res.Created

	// 2. Create Item
	time.Sleep(100 * time.Millisecond)
	res, ok = step("Create Item", ownerKey, &settlement.Tx{
		Type:  settlement.TxCreateItem,
		To:    registry,
		Price: price,
		Title: fmt.Sprintf("bench-%d", time.Now().UnixNano()),
	})
	if !ok || res.Created == nil {
		return results
	}
	unit := *res.Created

	// 3. Pay
	time.Sleep(100 * time.Millisecond)
	if _, ok := step("Pay", buyerKey, &settlement.Tx{Type: settlement.TxTransfer, To: unit, Value: price}); !ok {
		return results
	}

	// 4. Deliver
	time.Sleep(100 * time.Millisecond)
	if _, ok := step("Deliver", ownerKey, &settlement.Tx{Type: settlement.TxTriggerDelivery, To: registry, Index: 0}); !ok {
		return results
	}

	// 5. Read back
	start := time.Now()
	entry, err := ledger.Item(ctx, registry, 0)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("Read Item failed: %v\n", err)
		return results
	}
	results = append(results, RequestResult{
		Name:     "Read Item",
		Method:   "GET",
		Endpoint: "/registry/" + registry.Hex() + "/items/0",
		Result:   entry.State.String(),
		Latency:  elapsed,
	})
	fmt.Printf("Item at %s is %s\n", shortAddress(unit), entry.State)

	fmt.Printf("Total Delay: %v\n", time.Since(totalStart))
	return results
}

func shortAddress(a common.Address) string {
	h := a.Hex()
	return h[:6] + ".." + h[len(h)-4:]
}
