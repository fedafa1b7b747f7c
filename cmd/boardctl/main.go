package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/ictboard/errcode"
	"github.com/hubertat/ictboard/remote"
)

var (
	network = flag.String("network", "tcp", "tcp or unix")
	address = flag.String("address", "127.0.0.1:7010", "remote server address")
	board   = flag.Int("board", 1, "board index 1..4")
	command = flag.String("cmd", "GetIdentity", "GetBits, SetBits, GetVoltage or GetIdentity")
	port    = flag.Int("port", 0, "port number for GetBits and SetBits")
	value   = flag.Uint("value", 0, "byte written by SetBits")
	channel = flag.Int("channel", 0, "analog channel for GetVoltage")
	timeout = flag.Duration("timeout", 5*time.Second, "request timeout")
)

// boardctl sends one request to a running ictboard remote server and prints the answer.
func main() {
	flag.Parse()

	cmd, err := remote.ParseCommand(*command)
	if err != nil {
		log.Fatal("bad command", "err", err)
	}
	if *value > 0xFF {
		log.Fatal("value must fit in one byte", "value", *value)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := remote.NewClient(*network, *address)

	switch cmd {
	case remote.GetBits:
		var bits byte
		bits, err = client.GetBits(ctx, *board, *port)
		if err == nil {
			fmt.Printf("0x%02X\n", bits)
		}
	case remote.SetBits:
		err = client.SetBits(ctx, *board, *port, byte(*value))
		if err == nil {
			fmt.Println("ok")
		}
	case remote.GetVoltage:
		var volts float64
		volts, err = client.GetVoltage(ctx, *board, *channel)
		if err == nil {
			fmt.Printf("%.3f V\n", volts)
		}
	case remote.GetIdentity:
		var id string
		id, err = client.GetIdentity(ctx, *board)
		if err == nil {
			fmt.Println(id)
		}
	}

	if err != nil {
		log.Error("request failed", "code", errcode.Of(err), "err", err)
		os.Exit(1)
	}
}
