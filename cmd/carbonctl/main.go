package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli"

	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/app/core/transaction"
	"github.com/uhyunpark/carbonledger/pkg/client"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
	"github.com/uhyunpark/carbonledger/pkg/units"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "carbonctl"
	app.Usage = "sign and submit carbon credit orders"
	app.Version = Version
	app.Flags = []cli.Flag{nodeFlag, chainIDFlag}

	app.Commands = []cli.Command{
		keygenCMD,
		signOrderCMD,
		orderCMD,
		cancelCMD,
		buyCMD,
		submitCMD,
		getOrderCMD,
		approveCMD,
		mintCMD,
		bookCMD,
		listingsCMD,
		reputationCMD,
		statusCMD,
		convertCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	nodeFlag = cli.StringFlag{
		Name:   "node",
		Value:  "http://localhost:8080",
		Usage:  "node REST endpoint",
		EnvVar: "CARBON_NODE_URL",
	}
	chainIDFlag = cli.Int64Flag{
		Name:   "chain-id",
		Value:  31337,
		Usage:  "EIP-712 chain id",
		EnvVar: "CARBON_NODE_CHAIN_ID",
	}
	keyFlag = cli.StringFlag{
		Name:   "key",
		Usage:  "hex private key",
		EnvVar: "CARBON_KEY",
	}
	nonceFlag = cli.Uint64Flag{
		Name:  "nonce",
		Usage: "transaction nonce (0 asks the node for the next one)",
	}
	waitFlag = cli.BoolFlag{
		Name:  "wait",
		Usage: "wait for the transaction's receipt",
	}
	orderFlags = []cli.Flag{
		keyFlag,
		nonceFlag,
		cli.StringFlag{Name: "side", Usage: "buy or sell"},
		cli.StringFlag{Name: "amount", Usage: "credits, e.g. 1.5 or 1500000000000000000"},
		cli.StringFlag{Name: "price", Usage: "quote per whole credit, e.g. 0.02"},
		cli.Uint64Flag{Name: "deadline", Usage: "unix seconds after which the order is void (0 = none)"},
	}
)

var (
	keygenCMD = cli.Command{
		Name:   "keygen",
		Usage:  "generate a wallet key",
		Action: keygenAction,
	}
	signOrderCMD = cli.Command{
		Name:        "sign-order",
		Usage:       "sign an order offline and print the transaction",
		Action:      signOrderAction,
		Flags:       append(orderFlags, cli.BoolFlag{Name: "typed-data", Usage: "also print eth_signTypedData_v4 input"}),
		Description: `Signs a PlaceOrder payload without contacting a node. --nonce is required.`,
	}
	orderCMD = cli.Command{
		Name:   "order",
		Usage:  "sign and submit a limit order",
		Action: orderAction,
		Flags:  append(orderFlags, waitFlag),
	}
	cancelCMD = cli.Command{
		Name:   "cancel",
		Usage:  "sign and submit an order cancellation",
		Action: cancelAction,
		Flags:  []cli.Flag{keyFlag, nonceFlag, waitFlag, cli.Uint64Flag{Name: "id", Usage: "order id"}},
	}
	buyCMD = cli.Command{
		Name:   "buy",
		Usage:  "sign and submit a fixed-price listing purchase",
		Action: buyAction,
		Flags: []cli.Flag{
			keyFlag, nonceFlag, waitFlag,
			cli.Uint64Flag{Name: "listing", Usage: "listing id"},
			cli.StringFlag{Name: "value", Usage: "quote to spend"},
		},
	}
	submitCMD = cli.Command{
		Name:      "submit",
		Usage:     "submit a signed transaction from a file (- for stdin)",
		ArgsUsage: "<file>",
		Action:    submitAction,
		Flags:     []cli.Flag{waitFlag},
	}
	getOrderCMD = cli.Command{
		Name:      "get-order",
		Usage:     "show an order",
		ArgsUsage: "<id>",
		Action:    getOrderAction,
	}
	approveCMD = cli.Command{
		Name:   "approve",
		Usage:  "let the escrow account move an asset",
		Action: approveAction,
		Flags: []cli.Flag{
			keyFlag,
			cli.StringFlag{Name: "asset", Value: "base", Usage: "base or quote"},
			cli.StringFlag{Name: "amount"},
		},
	}
	mintCMD = cli.Command{
		Name:   "mint",
		Usage:  "mint an asset (minter key only)",
		Action: mintAction,
		Flags: []cli.Flag{
			keyFlag,
			cli.StringFlag{Name: "asset", Value: "base", Usage: "base or quote"},
			cli.StringFlag{Name: "to"},
			cli.StringFlag{Name: "amount"},
		},
	}
	bookCMD = cli.Command{
		Name:   "book",
		Usage:  "show the order book",
		Action: bookAction,
		Flags:  []cli.Flag{cli.IntFlag{Name: "depth", Value: 10}},
	}
	listingsCMD = cli.Command{
		Name:   "listings",
		Usage:  "show open listings",
		Action: listingsAction,
	}
	reputationCMD = cli.Command{
		Name:      "reputation",
		Usage:     "show a trader's reputation and balances",
		ArgsUsage: "<address>",
		Action:    reputationAction,
	}
	statusCMD = cli.Command{
		Name:   "status",
		Usage:  "show chain status",
		Action: statusAction,
	}
	convertCMD = cli.Command{
		Name:      "convert",
		Usage:     "convert between whole units and 18-decimal base units",
		ArgsUsage: "<amount>",
		Action:    convertAction,
		Flags:     []cli.Flag{cli.BoolFlag{Name: "from-wei", Usage: "input is base units"}},
	}
)

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func domain(c *cli.Context) crypto.EIP712Domain {
	d := crypto.DefaultDomain()
	d.ChainID = big.NewInt(c.GlobalInt64(chainIDFlag.Name))
	return d
}

func nodeClient(c *cli.Context) *client.Client {
	return client.New(c.GlobalString(nodeFlag.Name))
}

func loadKey(c *cli.Context) (*crypto.Signer, error) {
	hexKey := c.String(keyFlag.Name)
	if hexKey == "" {
		return nil, fmt.Errorf("--key or CARBON_KEY is required")
	}
	return crypto.FromPrivateKeyHex(hexKey)
}

func amountFlag(c *cli.Context, name string) (*big.Int, error) {
	s := c.String(name)
	if s == "" {
		return nil, fmt.Errorf("--%s is required", name)
	}
	return units.ParseAmount(s)
}

// nonce returns --nonce, or asks the node when it is unset
func nonce(ctx context.Context, c *cli.Context, key *crypto.Signer) (uint64, error) {
	if n := c.Uint64(nonceFlag.Name); n != 0 {
		return n, nil
	}
	return nodeClient(c).NextNonce(ctx, key.Address())
}

func buildOrder(ctx context.Context, c *cli.Context, offline bool) (*transaction.SignedTransaction, error) {
	key, err := loadKey(c)
	if err != nil {
		return nil, err
	}
	side, err := crypto.SideFromString(c.String("side"))
	if err != nil {
		return nil, err
	}
	amount, err := amountFlag(c, "amount")
	if err != nil {
		return nil, err
	}
	price, err := amountFlag(c, "price")
	if err != nil {
		return nil, err
	}
	n := c.Uint64(nonceFlag.Name)
	if n == 0 {
		if offline {
			return nil, fmt.Errorf("--nonce is required when signing offline")
		}
		if n, err = nonce(ctx, c, key); err != nil {
			return nil, err
		}
	}
	ls := ledger.Buy
	if side == crypto.SideSell {
		ls = ledger.Sell
	}
	return transaction.NewBuilder(domain(c), key).PlaceOrder(ls, amount, price, n, c.Uint64("deadline"))
}

func submit(ctx context.Context, c *cli.Context, tx *transaction.SignedTransaction) error {
	cl := nodeClient(c)
	hash, err := cl.SubmitTx(ctx, tx)
	if err != nil {
		return err
	}
	return report(ctx, c, cl, hash)
}

func report(ctx context.Context, c *cli.Context, cl *client.Client, hash string) error {
	if !c.Bool(waitFlag.Name) {
		return printJSON(map[string]string{"status": "queued", "hash": hash})
	}
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res, err := cl.WaitReceipt(waitCtx, hash)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func keygenAction(_ *cli.Context) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"address":    key.Address().Hex(),
		"privateKey": key.PrivateKeyHex(),
	})
}

func signOrderAction(c *cli.Context) error {
	tx, err := buildOrder(context.Background(), c, true)
	if err != nil {
		return err
	}
	if err := printJSON(tx); err != nil {
		return err
	}
	if !c.Bool("typed-data") {
		return nil
	}
	o, err := tx.Order.ToEIP712()
	if err != nil {
		return err
	}
	td, err := crypto.NewEIP712Signer(domain(c)).PlaceOrderJSON(o)
	if err != nil {
		return err
	}
	fmt.Println(td)
	return nil
}

func orderAction(c *cli.Context) error {
	ctx := context.Background()
	tx, err := buildOrder(ctx, c, false)
	if err != nil {
		return err
	}
	return submit(ctx, c, tx)
}

func cancelAction(c *cli.Context) error {
	ctx := context.Background()
	key, err := loadKey(c)
	if err != nil {
		return err
	}
	n, err := nonce(ctx, c, key)
	if err != nil {
		return err
	}
	tx, err := transaction.NewBuilder(domain(c), key).CancelOrder(c.Uint64("id"), n)
	if err != nil {
		return err
	}
	return submit(ctx, c, tx)
}

func buyAction(c *cli.Context) error {
	ctx := context.Background()
	key, err := loadKey(c)
	if err != nil {
		return err
	}
	value, err := amountFlag(c, "value")
	if err != nil {
		return err
	}
	n, err := nonce(ctx, c, key)
	if err != nil {
		return err
	}
	tx, err := transaction.NewBuilder(domain(c), key).BuyListing(c.Uint64("listing"), value, n)
	if err != nil {
		return err
	}
	return submit(ctx, c, tx)
}

func submitAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("usage: carbonctl submit <file>")
	}
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	ctx := context.Background()
	cl := nodeClient(c)
	hash, err := cl.SubmitRaw(ctx, raw)
	if err != nil {
		return err
	}
	return report(ctx, c, cl, hash)
}

func getOrderAction(c *cli.Context) error {
	id, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("usage: carbonctl get-order <id>")
	}
	o, err := nodeClient(c).Order(context.Background(), id)
	if err != nil {
		return err
	}
	return printJSON(o)
}

// session logs the key in and returns a client carrying its token
func session(ctx context.Context, c *cli.Context) (*client.Client, error) {
	key, err := loadKey(c)
	if err != nil {
		return nil, err
	}
	cl := nodeClient(c)
	if _, err := cl.Login(ctx, key); err != nil {
		return nil, err
	}
	return cl, nil
}

func approveAction(c *cli.Context) error {
	ctx := context.Background()
	cl, err := session(ctx, c)
	if err != nil {
		return err
	}
	bal, err := cl.Approve(ctx, c.String("asset"), c.String("amount"))
	if err != nil {
		return err
	}
	return printJSON(bal)
}

func mintAction(c *cli.Context) error {
	ctx := context.Background()
	to, err := crypto.ParseAddress(c.String("to"))
	if err != nil {
		return err
	}
	cl, err := session(ctx, c)
	if err != nil {
		return err
	}
	bal, err := cl.Mint(ctx, c.String("asset"), to, c.String("amount"))
	if err != nil {
		return err
	}
	return printJSON(bal)
}

func bookAction(c *cli.Context) error {
	book, err := nodeClient(c).Orderbook(context.Background(), c.Int("depth"))
	if err != nil {
		return err
	}
	return printJSON(book)
}

func listingsAction(c *cli.Context) error {
	listings, err := nodeClient(c).Listings(context.Background())
	if err != nil {
		return err
	}
	return printJSON(listings)
}

func reputationAction(c *cli.Context) error {
	addr, err := crypto.ParseAddress(c.Args().First())
	if err != nil {
		return err
	}
	ctx := context.Background()
	cl := nodeClient(c)
	rep, err := cl.Reputation(ctx, addr)
	if err != nil {
		return err
	}
	bals, err := cl.Balances(ctx, addr)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"reputation": rep, "balances": bals})
}

func statusAction(c *cli.Context) error {
	st, err := nodeClient(c).Status(context.Background())
	if err != nil {
		return err
	}
	return printJSON(st)
}

func convertAction(c *cli.Context) error {
	in := c.Args().First()
	if in == "" {
		return fmt.Errorf("usage: carbonctl convert [--from-wei] <amount>")
	}
	if c.Bool("from-wei") {
		wei, err := units.ParseWei(in)
		if err != nil {
			return err
		}
		fmt.Println(units.FormatEther(wei))
		return nil
	}
	wei, err := units.ToWei(in)
	if err != nil {
		return err
	}
	fmt.Println(wei.String())
	return nil
}
