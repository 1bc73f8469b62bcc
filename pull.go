// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

// PullDriver serves a passive peer. For a producer it copies each full
// buffer out and writes the empty flag back; for a consumer it reports
// whether the next buffer can be written.
type PullDriver struct {
	res  *Resources
	typ  DescType
	desc Desc
	next uint32
}

func newPullDriver(reg *Registry, d *Descriptors) (*PullDriver, error) {
	if d.Desc.NBuffers == 0 {
		return nil, newError(BadDescriptor, "producer descriptor has no buffers")
	}
	res, err := reg.Resolve(d.Desc.OOB.Endpoint)
	if err != nil {
		return nil, err
	}
	return &PullDriver{res: res, typ: d.Type, desc: d.Desc}, nil
}

// Endpoint returns the producer's endpoint.
func (pd *PullDriver) Endpoint() Endpoint { return pd.res.Endpoint }

// Pull copies the next full producer buffer into dst and frees it. ok is
// false when that buffer is not full yet.
func (pd *PullDriver) Pull(dst []byte) (md MetaData, ok bool, err error) {
	if pd.typ != ProducerDescT {
		return md, false, newError(BadDescriptor, "pull from a consumer descriptor")
	}
	d := &pd.desc
	i := uint64(pd.next)
	v, err := loadWord(pd.res.Segment, d.FullFlagBaseAddr+i*uint64(d.FullFlagPitch))
	if err != nil {
		return md, false, err
	}
	if v != d.FullFlagValue {
		return md, false, nil
	}
	meta, err := pd.res.Map(d.MetaDataBaseAddr+i*uint64(d.MetaDataPitch), metaDataSize)
	if err != nil {
		return md, false, err
	}
	wordLock.RLock()
	md.decode(meta)
	wordLock.RUnlock()
	n := min(uint64(md.Length), uint64(d.DataBufferSize), uint64(len(dst)))
	if n > 0 {
		src, err := pd.res.Map(d.DataBufferBaseAddr+i*uint64(d.DataBufferPitch), n)
		if err != nil {
			return md, false, err
		}
		wordLock.Lock()
		copy(dst, src)
		wordLock.Unlock()
	}
	md.Length = uint32(n)
	if err := storeWord(pd.res.Segment, d.EmptyFlagBaseAddr+i*uint64(d.EmptyFlagPitch), d.EmptyFlagValue); err != nil {
		return md, false, err
	}
	pd.next = (pd.next + 1) % d.NBuffers
	return md, true, nil
}

// Empty reports whether the next buffer of a passive consumer is empty.
func (pd *PullDriver) Empty() (bool, error) {
	if pd.typ == ProducerDescT {
		return false, newError(BadDescriptor, "empty check on a producer descriptor")
	}
	d := &pd.desc
	v, err := loadWord(pd.res.Segment, d.EmptyFlagBaseAddr+uint64(pd.next)*uint64(d.EmptyFlagPitch))
	if err != nil {
		return false, err
	}
	return v == d.EmptyFlagValue, nil
}
