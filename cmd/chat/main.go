// Command chat pipes standard input to a linechat server and prints every
// line the server sends. Handshake lines are typed by hand, for example
// "login:alice:secret".
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/linechat/internal/chatclient"
)

func main() {
	addr := flag.String("addr", "localhost:12345", "server address")
	timeout := flag.Duration("dial-timeout", 30*time.Second, "how long to keep retrying the connection")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	client, err := chatclient.Dial(dialCtx, *addr)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Could not connect to server:", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	go func() {
		<-ctx.Done()
		_ = client.Close()
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := client.Send(scanner.Text()); err != nil {
				return
			}
		}
		_ = client.Close()
	}()

	for {
		line, err := client.ReadLine()
		if err != nil {
			fmt.Println("Disconnected.")
			return
		}
		fmt.Println(line)
	}
}
