// Command vmsh is an interactive shell for poking at a small in-memory
// stack it boots itself: trigger page faults and inspect frame/swap
// occupancy by hand. It uses peterh/liner for line editing and history,
// the same library calvinalkan-agent-task's interactive tooling uses.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"vmkernel/bc"
	"vmkernel/blockdev"
	"vmkernel/defs"
	"vmkernel/mem"
	"vmkernel/pagetable"
	"vmkernel/swap"
	"vmkernel/vm"
)

const historyFile = ".vmsh_history"

func main() {
	pool := mem.NewPool(16)
	dev := newShellSwapDevice()
	sw := swap.New(dev)
	fsDev := newShellFSDevice()
	fsCache := bc.NewCache(fsDev, blockdev.RoleFS, 16, 4)
	fsCache.Start(context.Background())
	defer fsCache.Stop()
	kernel := vm.NewKernel(pool, sw, fsCache)
	pt := pagetable.NewFakePT()
	space := kernel.NewSpace(pt, 0x8048000)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("vmsh -- type 'help' for commands, 'quit' to exit")
	for {
		cmd, err := line.Prompt("vmsh> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			break
		}
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		line.AppendHistory(cmd)
		if !dispatch(space, pool, sw, cmd) {
			break
		}
	}

	if f, err := os.Create(historyFile); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}

func dispatch(space *vm.Space, pool *mem.Pool, sw *swap.Swap, cmd string) bool {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case "quit", "exit":
		return false
	case "help":
		fmt.Println("commands: fault <hex-vaddr> [w] [hex-esp] | stats | quit")
	case "fault":
		if len(fields) < 2 {
			fmt.Println("usage: fault <hex-vaddr> [w] [hex-esp]")
			return true
		}
		vaddr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil {
			fmt.Println("bad vaddr:", err)
			return true
		}
		write := len(fields) > 2 && fields[2] == "w"
		esp := vaddr
		if len(fields) > 3 {
			if v, err := strconv.ParseUint(strings.TrimPrefix(fields[3], "0x"), 16, 64); err == nil {
				esp = v
			}
		}
		errt := space.HandlePageFault(uintptr(vaddr), write, uintptr(esp))
		fmt.Printf("result: %v\n", errt)
	case "stats":
		fmt.Printf("frames: %d/%d free, swap slots: %d\n", pool.Nfree(), pool.Cap(), sw.Nslots())
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return true
}

// newShellSwapDevice gives vmsh its own small in-memory swap device so
// it never needs a real disk image just to demonstrate eviction.
func newShellSwapDevice() shellDevice {
	return shellDevice(make([][defs.SectorSize]byte, defs.SectorsPerPage*32))
}

// newShellFSDevice gives vmsh its own small in-memory fs-role device,
// fronted by a buffer cache, so vm.NewKernel always has somewhere for
// MMF write-back to go without a real disk image.
func newShellFSDevice() shellDevice {
	return shellDevice(make([][defs.SectorSize]byte, defs.SectorsPerPage*32))
}

// shellDevice is a minimal blockdev.Device with a single backing array
// that ignores the role; vmsh uses one instance per role.
type shellDevice [][defs.SectorSize]byte

func (d shellDevice) Read(_ blockdev.Role, sector uint32, buf []byte) {
	copy(buf, d[sector][:])
}

func (d shellDevice) Write(_ blockdev.Role, sector uint32, buf []byte) {
	copy(d[sector][:], buf)
}

func (d shellDevice) Size(_ blockdev.Role) uint32 {
	return uint32(len(d))
}
