package dlqueue

import "time"

// armSaveLocked schedules a coalesced bitmap save SaveBitmapDelay after the
// first dirtying write in a burst, per spec.md §4.B. Called with d.mu held.
func (d *Dl) armSaveLocked() {
	if d.saveDue {
		return
	}
	d.saveDue = true
	d.saveTimer = time.AfterFunc(SaveBitmapDelay, d.flushBitmap)
}

func (d *Dl) flushBitmap() {
	d.mu.Lock()
	if !d.saveDue {
		d.mu.Unlock()
		return
	}
	d.saveDue = false
	bitmap := make([]byte, len(d.bitmap))
	copy(bitmap, d.bitmap)
	f := d.file
	d.mu.Unlock()

	if err := f.SaveBitmap(bitmap); err != nil {
		d.mu.Lock()
		d.ioErr = err
		d.mu.Unlock()
	}
}

// finish truncates the trailer and moves the incoming file to its final
// destination once every thread has retired with no pending error.
func (d *Dl) finish() {
	d.mu.Lock()
	if d.finished {
		d.mu.Unlock()
		return
	}
	d.finished = true
	d.state = StateDone
	if d.saveTimer != nil {
		d.saveTimer.Stop()
	}
	f := d.file
	dest := d.Dest
	onFinish := d.OnFinish
	d.mu.Unlock()

	finalPath, err := f.Finish(dest)
	if err != nil {
		d.mu.Lock()
		d.ioErr = err
		d.finished = false
		d.state = StateError
		d.mu.Unlock()
		return
	}
	if onFinish != nil {
		onFinish(d, finalPath)
	}
}

// Close flushes any pending bitmap save and closes the incoming file without
// moving it, for a download that is being paused rather than completed.
func (d *Dl) Close() error {
	d.mu.Lock()
	if d.saveTimer != nil {
		d.saveTimer.Stop()
	}
	bitmap := make([]byte, len(d.bitmap))
	copy(bitmap, d.bitmap)
	f := d.file
	d.mu.Unlock()

	if err := f.SaveBitmap(bitmap); err != nil {
		return err
	}
	return f.Close()
}
