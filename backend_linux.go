//go:build linux

package usb

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxDevice is the Linux usbfs platformDevice: one open device node fd,
// one dispatcher goroutine reaping completions for every transfer submitted
// against it (§5 "platform completion dispatcher").
type linuxDevice struct {
	mu   sync.Mutex
	fd   int
	path string

	dispatcher *linuxDispatcher

	closed bool
}

func openDevice(info DeviceInfo) (*DeviceHandle, error) {
	fd, err := unix.Open(info.ID.path, unix.O_RDWR, 0)
	if err != nil {
		return nil, mapOpenErr("open "+info.ID.path, err)
	}

	raw, err := readRawDescriptors(info.ID.BusNumber, info.ID.DeviceAddress)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	desc, configs, err := parseRawDescriptors(raw)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	ld := &linuxDevice{fd: fd, path: info.ID.path}
	ld.dispatcher = newLinuxDispatcher(fd)
	go ld.dispatcher.run()

	return newDeviceHandle(ld, desc, configs), nil
}

func mapOpenErr(op string, err error) error {
	switch err {
	case unix.ENOENT, unix.ENODEV:
		return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
	case unix.EACCES, unix.EPERM:
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, op, err)
	default:
		return wrapIo(op, err)
	}
}

func (d *linuxDevice) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.dispatcher.stop()
	return wrapIo("close", unix.Close(d.fd))
}

func (d *linuxDevice) claimInterface(num uint8) (platformInterface, error) {
	n := uint32(num)
	if err := ioctlPtr(d.fd, usbdevfsClaimInterface, unsafe.Pointer(&n)); err != nil {
		return nil, mapIoctlErr("claim interface", err)
	}
	return &linuxInterface{dev: d, num: num}, nil
}

func (d *linuxDevice) detachAndClaimInterface(num uint8) (platformInterface, error) {
	req := usbdevfsDisconnectClaimReq{Interface: uint32(num), Flags: usbdevfsDisconnectClaimIfDriver}
	if err := ioctlPtr(d.fd, usbdevfsDisconnectClaim, unsafe.Pointer(&req)); err != nil {
		// Not every kernel build supports DISCONNECT_CLAIM; fall back to the
		// two-step detach-then-claim the teacher's device.go performs.
		// USBDEVFS_DISCONNECT goes through USBDEVFS_IOCTL; its error is
		// ignored because the interface may have no driver bound.
		detach := struct {
			Ifno      int32
			IoctlCode int32
			Data      uintptr
		}{Ifno: int32(num), IoctlCode: usbdevfsDisconnect}
		_ = ioctlPtr(d.fd, usbdevfsIoctl, unsafe.Pointer(&detach))
		n := uint32(num)
		if err2 := ioctlPtr(d.fd, usbdevfsClaimInterface, unsafe.Pointer(&n)); err2 != nil {
			return nil, mapIoctlErr("detach and claim interface", err)
		}
	}
	return &linuxInterface{dev: d, num: num}, nil
}

func (d *linuxDevice) setConfiguration(value uint8) error {
	v := uint32(value)
	return mapIoctlErr("set configuration", ioctlPtr(d.fd, usbdevfsSetConfiguration, unsafe.Pointer(&v)))
}

func (d *linuxDevice) reset() error {
	return mapIoctlErr("reset", ioctlPtr(d.fd, usbdevfsReset, nil))
}

func (d *linuxDevice) speed() (Speed, bool) {
	ret, err := ioctlRet(d.fd, usbdevfsGetSpeed, 0)
	if err != nil {
		return SpeedUnknown, false
	}
	switch ret {
	case 1:
		return SpeedLow, true
	case 2:
		return SpeedFull, true
	case 3:
		return SpeedHigh, true
	case 4:
		return SpeedSuper, true
	case 5:
		return SpeedSuperPlus, true
	default:
		return SpeedUnknown, false
	}
}

func (d *linuxDevice) activeConfigurationValue() (uint8, error) {
	buf := make([]byte, 1)
	n, err := d.controlTransferSync(usbdevfsCtrlTransfer{
		RequestType: 0x80, // device-to-host, standard, device
		Request:     0x08, // GET_CONFIGURATION
		Length:      1,
		Timeout:     1000,
	}, buf)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: GET_CONFIGURATION returned no data", ErrInvalidData)
	}
	return buf[0], nil
}

func (d *linuxDevice) getDescriptor(descType, index uint8, lang uint16, length int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, length)
	n, err := d.controlTransferSync(usbdevfsCtrlTransfer{
		RequestType: 0x80,
		Request:     0x06, // GET_DESCRIPTOR
		Value:       uint16(descType)<<8 | uint16(index),
		Index:       lang,
		Length:      uint16(length),
		Timeout:     uint32(timeout / time.Millisecond),
	}, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (d *linuxDevice) controlInBlocking(ctx context.Context, req ControlIn, timeout time.Duration) ([]byte, error) {
	setup := req.Control.encode(dirIn, req.Length)
	dir, c, length := decodeSetupPacket(setup)
	_ = dir
	buf := make([]byte, req.Length)
	n, err := d.controlTransferSync(usbdevfsCtrlTransfer{
		RequestType: 0x80 | byte(c.ControlType)<<5 | byte(c.Recipient),
		Request:     c.Request,
		Value:       c.Value,
		Index:       c.Index,
		Length:      length,
		Timeout:     uint32(timeout / time.Millisecond),
	}, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (d *linuxDevice) controlOutBlocking(ctx context.Context, req ControlOut, timeout time.Duration) error {
	_, err := d.controlTransferSync(usbdevfsCtrlTransfer{
		RequestType: byte(req.Control.ControlType)<<5 | byte(req.Control.Recipient),
		Request:     req.Control.Request,
		Value:       req.Control.Value,
		Index:       req.Control.Index,
		Length:      uint16(len(req.Data)),
		Timeout:     uint32(timeout / time.Millisecond),
	}, req.Data)
	return err
}

func (d *linuxDevice) controlTransferSync(ctrl usbdevfsCtrlTransfer, buf []byte) (int, error) {
	if len(buf) > 0 {
		ctrl.Data = uintptr(unsafe.Pointer(&buf[0]))
	}
	n, err := ioctlRet(d.fd, usbdevfsControl, uintptr(unsafe.Pointer(&ctrl)))
	if err != nil {
		return 0, mapIoctlErr("control transfer", err)
	}
	return int(n), nil
}

func (d *linuxDevice) newControlBlock(ep EndpointAddress) (platformControlBlock, error) {
	return &linuxControlBlock{dev: d, endpoint: ep, transType: TransferTypeControl}, nil
}

// linuxInterface is the Linux usbfs platformInterface.
type linuxInterface struct {
	dev *linuxDevice
	num uint8
}

func (i *linuxInterface) release() error {
	n := uint32(i.num)
	return mapIoctlErr("release interface", ioctlPtr(i.dev.fd, usbdevfsReleaseInterface, unsafe.Pointer(&n)))
}

func (i *linuxInterface) setAltSetting(alt uint8) error {
	req := usbdevfsSetInterfaceReq{Interface: uint32(i.num), AltSetting: uint32(alt)}
	return mapIoctlErr("set alt setting", ioctlPtr(i.dev.fd, usbdevfsSetInterface, unsafe.Pointer(&req)))
}

// getAltSetting has no dedicated usbfs ioctl; usbfs only exposes alt-setting
// selection (USBDEVFS_SETINTERFACE), not a getter, so the standard
// GET_INTERFACE control request is issued instead, the same way
// activeConfigurationValue falls back to GET_CONFIGURATION.
func (i *linuxInterface) getAltSetting() (uint8, error) {
	buf := make([]byte, 1)
	n, err := i.dev.controlTransferSync(usbdevfsCtrlTransfer{
		RequestType: 0x81, // device-to-host, standard, interface
		Request:     0x0A, // GET_INTERFACE
		Index:       uint16(i.num),
		Length:      1,
		Timeout:     1000,
	}, buf)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: GET_INTERFACE returned no data", ErrInvalidData)
	}
	return buf[0], nil
}

func (i *linuxInterface) clearHalt(ep EndpointAddress) error {
	v := uint32(ep)
	return mapIoctlErr("clear halt", ioctlPtr(i.dev.fd, usbdevfsClearHalt, unsafe.Pointer(&v)))
}

func (i *linuxInterface) newControlBlock(ep EndpointAddress, tt TransferType) (platformControlBlock, error) {
	return &linuxControlBlock{dev: i.dev, endpoint: ep, transType: tt}, nil
}

func (i *linuxInterface) interfaceNumber() uint8 { return i.num }

// linuxControlBlock is one usbfs URB submission: the URB header plus any
// isochronous packet descriptors are allocated together in urbMem so a
// single pointer identifies the whole submission to REAPURB, matching the
// kernel's variable-length usbdevfs_urb + iso_frame_desc[] layout.
type linuxControlBlock struct {
	dev       *linuxDevice
	endpoint  EndpointAddress
	transType TransferType

	urbMem   []byte
	dataBuf  []byte
	transfer *Transfer
}

func (cb *linuxControlBlock) urbType() uint8 {
	switch cb.transType {
	case TransferTypeControl:
		return urbTypeControl
	case TransferTypeIsochronous:
		return urbTypeISO
	case TransferTypeInterrupt:
		return urbTypeInterrupt
	default:
		return urbTypeBulk
	}
}

func (cb *linuxControlBlock) attachTransfer(t *Transfer) { cb.transfer = t }

func (cb *linuxControlBlock) submit(buf []byte, setup *[setupPacketLen]byte) error {
	data := buf
	if setup != nil {
		data = make([]byte, setupPacketLen+len(buf))
		copy(data, setup[:])
		copy(data[setupPacketLen:], buf)
	}
	return cb.submitURB(data, 0, 0)
}

func (cb *linuxControlBlock) submitIso(buf []byte, packetLen, numPackets int) error {
	return cb.submitURB(buf, packetLen, numPackets)
}

// submitURB lays out the URB header followed by numPackets iso_frame_desc
// entries (zero for non-isochronous transfers) in one contiguous allocation,
// matching the variable-length usbdevfs_urb the kernel expects, then submits
// it and registers it with the device's dispatcher for later reaping.
func (cb *linuxControlBlock) submitURB(data []byte, packetLen, numPackets int) error {
	cb.dataBuf = data
	cb.urbMem = make([]byte, int(sizeofUsbdevfsURB)+numPackets*int(sizeofIsoPacketDesc))
	urb := (*usbdevfsURB)(unsafe.Pointer(&cb.urbMem[0]))
	urb.Type = cb.urbType()
	urb.Endpoint = uint8(cb.endpoint)
	urb.BufferLength = int32(len(data))
	if len(data) > 0 {
		urb.Buffer = uintptr(unsafe.Pointer(&data[0]))
	}
	urb.UserContext = uintptr(unsafe.Pointer(cb))
	if numPackets > 0 {
		urb.PacketsOrStream = int32(numPackets)
		descs := unsafe.Slice((*usbdevfsIsoPacketDesc)(unsafe.Pointer(&cb.urbMem[sizeofUsbdevfsURB])), numPackets)
		for i := range descs {
			descs[i].Length = uint32(packetLen)
		}
	}

	// Register before submitting: the dispatcher goroutine polls REAPURB
	// concurrently, and a fast transfer can complete before control returns
	// from the ioctl. Registering after submission risks the dispatcher
	// reaping the URB, missing it in pending, and leaving the waiter
	// blocked on waitChan() forever.
	cb.dev.dispatcher.register(urb, cb)
	if err := ioctlPtr(cb.dev.fd, usbdevfsSubmitURB, unsafe.Pointer(&cb.urbMem[0])); err != nil {
		cb.dev.dispatcher.unregister(urb)
		return mapIoctlErr("submit urb", err)
	}
	return nil
}

func (cb *linuxControlBlock) cancel() error {
	if len(cb.urbMem) == 0 {
		return nil
	}
	err := ioctlPtr(cb.dev.fd, usbdevfsDiscardURB, unsafe.Pointer(&cb.urbMem[0]))
	if err != nil && err != unix.EINVAL {
		return mapIoctlErr("discard urb", err)
	}
	return nil
}

// linuxDispatcher is the dedicated completion-reaping loop (§5), one per
// open device fd, polling REAPURBNDELAY (sleeping 1ms whenever nothing is
// ready) until the kernel hands back a completed URB pointer, then resolving
// the matching Transfer's waker.
// Modelled on the dedicated ioLoop goroutine pattern used for kernel-facing
// ioctl loops elsewhere in the retrieval pack.
type linuxDispatcher struct {
	fd int

	mu      sync.Mutex
	pending map[*usbdevfsURB]*linuxControlBlock

	stopCh chan struct{}
	doneCh chan struct{}
}

func newLinuxDispatcher(fd int) *linuxDispatcher {
	return &linuxDispatcher{
		fd:      fd,
		pending: make(map[*usbdevfsURB]*linuxControlBlock),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (disp *linuxDispatcher) register(urb *usbdevfsURB, cb *linuxControlBlock) {
	disp.mu.Lock()
	defer disp.mu.Unlock()
	disp.pending[urb] = cb
}

// unregister undoes a register call whose submit ioctl failed, so a stale
// entry doesn't linger in pending for a URB the kernel never accepted.
func (disp *linuxDispatcher) unregister(urb *usbdevfsURB) {
	disp.mu.Lock()
	defer disp.mu.Unlock()
	delete(disp.pending, urb)
}

func (disp *linuxDispatcher) stop() {
	close(disp.stopCh)
	<-disp.doneCh
}

func (disp *linuxDispatcher) run() {
	defer close(disp.doneCh)
	for {
		select {
		case <-disp.stopCh:
			return
		default:
		}

		var urbPtr *usbdevfsURB
		_, err := ioctlRet(disp.fd, usbdevfsReapURBNDelay, uintptr(unsafe.Pointer(&urbPtr)))
		if err != nil {
			if err == unix.EAGAIN {
				time.Sleep(time.Millisecond)
				continue
			}
			// ENODEV: device was disconnected or closed; nothing left to reap.
			return
		}

		disp.mu.Lock()
		cb, ok := disp.pending[urbPtr]
		if ok {
			delete(disp.pending, urbPtr)
		}
		disp.mu.Unlock()
		if !ok || cb.transfer == nil {
			continue
		}

		status := errnoToTransferStatus(urbPtr.Status)
		var isoResults []IsoPacketDescriptor
		if cb.transType == TransferTypeIsochronous && urbPtr.PacketsOrStream > 0 {
			n := int(urbPtr.PacketsOrStream)
			descs := unsafe.Slice((*usbdevfsIsoPacketDesc)(unsafe.Pointer(&cb.urbMem[sizeofUsbdevfsURB])), n)
			isoResults = make([]IsoPacketDescriptor, n)
			for i, d := range descs {
				isoResults[i] = IsoPacketDescriptor{Length: d.Length, ActualLength: d.ActualLength, Status: int32(d.Status)}
			}
		}
		cb.transfer.onComplete(status, int(urbPtr.ActualLength), isoResults)
	}
}

// errnoToTransferStatus is the Linux errno to TransferStatus mapping
// specified in §7, grounded on nusb's errno_to_transfer_error.
func errnoToTransferStatus(status int32) TransferStatus {
	switch status {
	case 0:
		return StatusOk
	case -int32(unix.ENODEV), -int32(unix.ESHUTDOWN):
		return StatusDisconnected
	case -int32(unix.EPIPE):
		return StatusStall
	case -int32(unix.ENOENT), -int32(unix.ECONNRESET), -int32(unix.ETIMEDOUT):
		return StatusCancelled
	case -int32(unix.EPROTO), -int32(unix.EILSEQ), -int32(unix.EOVERFLOW), -int32(unix.ECOMM), -int32(unix.ETIME):
		return StatusFault
	default:
		return StatusUnknown
	}
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlRet(fd int, req uintptr, arg uintptr) (int64, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return 0, errno
	}
	return int64(ret), nil
}

func mapIoctlErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch err {
	case unix.ENODEV:
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case unix.EACCES, unix.EPERM:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, op)
	case unix.ENOSYS, unix.ENOTTY:
		return fmt.Errorf("%w: %s", ErrUnsupported, op)
	default:
		return wrapIo(op, err)
	}
}
