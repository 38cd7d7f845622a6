// Command bfsctl mounts a FAT or ext image read-only and lists or extracts
// files from it, exercising the fsapi façade the way a host integration
// would.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/bolthur/bfs/blockdev"
	"github.com/bolthur/bfs/common"
	"github.com/bolthur/bfs/ext"
	"github.com/bolthur/bfs/fat"
	"github.com/bolthur/bfs/fsapi"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	common.SetLogger(logger)

	app := cli.App{
		Usage: "Inspect FAT12/16/32 and ext2 disk images",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List the root directory of an image",
				ArgsUsage: "IMAGE_FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "fat or ext", Value: "fat"},
				},
				Action: listRoot,
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				ArgsUsage: "IMAGE_FILE NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "fat or ext", Value: "fat"},
				},
				Action: catFile,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("bfsctl: %s", err.Error())
	}
}

func openDevice(path string) (blockdev.Device, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dev, derr := blockdev.NewStreamDevice(f, 512)
	if derr != nil {
		f.Close()
		return nil, nil, derr
	}
	return dev, f, nil
}

func listRoot(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("missing IMAGE_FILE argument")
	}

	dev, f, err := openDevice(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var dir *fsapi.Directory
	switch c.String("kind") {
	case "ext":
		inst, merr := ext.Mount(dev, true)
		if merr != nil {
			return merr
		}
		root, derr := inst.OpenRootDirectory()
		if derr != nil {
			return derr
		}
		dir = fsapi.NewExtDirectory(inst, root)
	default:
		inst, merr := fat.Mount(dev, true)
		if merr != nil {
			return merr
		}
		root, derr := inst.OpenRootDirectory()
		if derr != nil {
			return derr
		}
		dir = fsapi.NewFATDirectory(inst, root)
	}

	entries, lerr := dir.List()
	if lerr != nil {
		return lerr
	}
	for _, e := range entries {
		marker := "-"
		if e.IsDir {
			marker = "d"
		}
		fmt.Printf("%s %s\n", marker, e.Name)
	}
	return dir.Close()
}

func catFile(c *cli.Context) error {
	path := c.Args().Get(0)
	name := c.Args().Get(1)
	if path == "" || name == "" {
		return fmt.Errorf("usage: bfsctl cat IMAGE_FILE NAME")
	}

	dev, f, err := openDevice(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch c.String("kind") {
	case "ext":
		inst, merr := ext.Mount(dev, true)
		if merr != nil {
			return merr
		}
		root, derr := inst.OpenRootDirectory()
		if derr != nil {
			return derr
		}
		entry, eerr := root.EntryByName(name)
		if eerr != nil {
			return eerr
		}
		fh, ferr := inst.OpenFile(entry.Inode, false)
		if ferr != nil {
			return ferr
		}
		file := fsapi.NewExtFile(name, fh)
		_, cerr := io.Copy(os.Stdout, file)
		file.Close()
		return cerr
	default:
		inst, merr := fat.Mount(dev, true)
		if merr != nil {
			return merr
		}
		root, derr := inst.OpenRootDirectory()
		if derr != nil {
			return derr
		}
		entry, eerr := root.EntryByName(name)
		if eerr != nil {
			return eerr
		}
		fh := fat.OpenFile(inst, root, entry, false)
		file := fsapi.NewFATFile(name, fh)
		_, cerr := io.Copy(os.Stdout, file)
		file.Close()
		return cerr
	}
}
