package serial

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestOpen_ReadBytes(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := Open(slave.Name(), Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	_, err = master.Write([]byte("ping\n"))
	require.NoError(t, err)

	want := "ping\n"
	got := make([]byte, 0, len(want))
	for i := 0; i < len(want); i++ {
		b, err := port.ReadByte()
		require.NoError(t, err)
		got = append(got, b)
	}
	require.Equal(t, want, string(got))
}

func TestOpen_WriteVisibleToPeer(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := Open(slave.Name(), Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	n, err := port.Write([]byte("pong\n"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = master.Read(buf)
	require.NoError(t, err)
	// Raw mode: no newline translation on the way out.
	require.Equal(t, "pong\n", string(buf[:n]))
}

func TestReadByte_Timeout(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := Open(slave.Name(), Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	_, err = port.ReadByte()
	require.ErrorIs(t, err, ErrTimeout)
}

func TestReadByte_PeerClose(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { slave.Close() })

	port, err := Open(slave.Name(), Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	// Simulate device disconnect by closing the master side.
	require.NoError(t, master.Close())

	_, err = port.ReadByte()
	require.Error(t, err)
}

func TestOpen_BusyRetriesUntilDeadline(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	// Hold the advisory lock from a separate descriptor.
	fd, err := unix.Open(slave.Name(), unix.O_RDWR|unix.O_NOCTTY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	require.NoError(t, unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB))

	start := time.Now()
	_, err = Open(slave.Name(), Options{Timeout: 500 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond,
		"open must keep retrying until the deadline")
}

func TestOpen_ForceIgnoresLock(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	fd, err := unix.Open(slave.Name(), unix.O_RDWR|unix.O_NOCTTY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	require.NoError(t, unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB))

	port, err := Open(slave.Name(), Options{Timeout: 500 * time.Millisecond, Force: true})
	require.NoError(t, err)
	require.NoError(t, port.Close())
}

func TestOpen_NonBusyErrorFailsImmediately(t *testing.T) {
	start := time.Now()
	_, err := Open("/dev/nonexistent-mcucmd-test", Options{Timeout: time.Second})
	require.ErrorIs(t, err, unix.ENOENT)
	require.Less(t, time.Since(start), 200*time.Millisecond,
		"a non-busy failure must not be retried")
}

func TestOpen_DropPrivilegesHook(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	called := false
	port, err := Open(slave.Name(), Options{
		Timeout:        time.Second,
		DropPrivileges: func() error { called = true; return nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })
	require.True(t, called, "hook must run before open")
}

func TestOpen_ForceSkipsDropPrivileges(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := Open(slave.Name(), Options{
		Timeout:        time.Second,
		Force:          true,
		DropPrivileges: func() error { t.Fatal("hook must not run with Force"); return nil },
	})
	require.NoError(t, err)
	require.NoError(t, port.Close())
}
