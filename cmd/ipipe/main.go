// This program copies between a named pipe and stdin/stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/containerd/log"
	"github.com/fhs/ipipe"
)

var (
	verbose = flag.Int("v", 0, "verbosity")
	timeout = flag.Duration("t", 0, "timeout for opening or connecting; 0 waits forever")
	remove  = flag.Bool("d", false, "delete the pipe when done")
	dir     = flag.String("dir", "", "directory for FIFOs (default is the temporary directory)")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: ipipe [flags] read name\n")
	fmt.Fprintf(os.Stderr, "       ipipe [flags] write name\n")
	fmt.Fprintf(os.Stderr, "       ipipe [flags] create\n")
	fmt.Fprintf(os.Stderr, "\tread copies the pipe to stdout, write copies stdin to the pipe,\n")
	fmt.Fprintf(os.Stderr, "\tcreate makes a pipe with a random name, prints its path and reads it\n")
	fmt.Fprintf(os.Stderr, "\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if x := os.Getenv("IPIPE_VERBOSE"); x != "" {
		n, err := strconv.Atoi(x)
		if err == nil {
			*verbose = n
		}
	}
	if err := log.SetLevel(level(*verbose)); err != nil {
		log.L.WithError(err).Fatal("setting log level")
	}

	cleanup := ipipe.NoDelete
	if *remove {
		cleanup = ipipe.DeleteOnClose
	}
	opts := []ipipe.Option{
		ipipe.WithTimeout(*timeout),
		ipipe.WithDir(*dir),
		ipipe.WithCleanup(cleanup),
	}

	var (
		p   *ipipe.Pipe
		err error
	)
	switch {
	case flag.NArg() == 2 && (flag.Arg(0) == "read" || flag.Arg(0) == "write"):
		p, err = ipipe.WithName(flag.Arg(1), opts...)
	case flag.NArg() == 1 && flag.Arg(0) == "create":
		p, err = ipipe.Create(cleanup, opts...)
	default:
		usage()
	}
	if err != nil {
		log.L.WithError(err).Fatal("open failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		// closing unblocks a pending read or write
		<-ctx.Done()
		p.Close()
	}()

	if flag.Arg(0) == "write" {
		err = write(p)
	} else {
		if flag.Arg(0) == "create" {
			fmt.Println(p.Path())
		}
		_, err = io.Copy(os.Stdout, p)
	}
	if cerr := p.Close(); err == nil {
		err = cerr
	}
	if err != nil && !errors.Is(err, ipipe.ErrClosed) {
		log.L.WithError(err).Fatal(flag.Arg(0) + " failed")
	}
}

func write(p *ipipe.Pipe) error {
	if _, err := io.Copy(p, os.Stdin); err != nil {
		return err
	}
	return p.Flush()
}

func level(v int) string {
	switch {
	case v <= 0:
		return "info"
	case v == 1:
		return "debug"
	}
	return "trace"
}
