package providers

import (
	"fmt"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID" yaml:"deviceID"`
	// The size limit of the device memory arena in bytes. Zero keeps the default.
	GPUMemLimit int64 `json:"gpuMemLimit" yaml:"gpuMemLimit"`
	// The strategy for extending the device memory arena.
	// 0: kNextPowerOfTwo, 1: kSameAsRequested
	ArenaExtendStrategy int `json:"arenaExtendStrategy" yaml:"arenaExtendStrategy"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT
	CudnnConvAlgoSearch int `json:"cudnnConvAlgoSearch" yaml:"cudnnConvAlgoSearch"`
	// Whether to do copies in the default stream or use separate streams.
	DoCopyInDefaultStream bool `json:"doCopyInDefaultStream" yaml:"doCopyInDefaultStream"`
}

// CUDAOptionsFromMap reads the options from their ONNX Runtime key names.
// Unparseable values fall back to defaults.
func CUDAOptionsFromMap(m map[string]string) CUDAOptions {
	o := CUDAOptions{CudnnConvAlgoSearch: 0, DoCopyInDefaultStream: true}
	if v, err := strconv.Atoi(m["device_id"]); err == nil {
		o.DeviceID = v
	}
	if v, err := strconv.ParseInt(m["gpu_mem_limit"], 10, 64); err == nil {
		o.GPUMemLimit = v
	}
	if v, err := strconv.Atoi(m["arena_extend_strategy"]); err == nil {
		o.ArenaExtendStrategy = v
	}
	if v, err := strconv.Atoi(m["cudnn_conv_algo_search"]); err == nil {
		o.CudnnConvAlgoSearch = v
	}
	if v, err := strconv.ParseBool(m["do_copy_in_default_stream"]); err == nil {
		o.DoCopyInDefaultStream = v
	}
	return o
}

// Map returns the options keyed by their ONNX Runtime names.
func (o CUDAOptions) Map() map[string]string {
	search := [...]string{"EXHAUSTIVE", "HEURISTIC", "DEFAULT"}
	m := map[string]string{
		"device_id":                 fmt.Sprintf("%d", o.DeviceID),
		"arena_extend_strategy":     [...]string{"kNextPowerOfTwo", "kSameAsRequested"}[o.ArenaExtendStrategy&1],
		"cudnn_conv_algo_search":    search[min(max(o.CudnnConvAlgoSearch, 0), 2)],
		"do_copy_in_default_stream": fmt.Sprintf("%d", boolInt(o.DoCopyInDefaultStream)),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	return m
}

// ToNativeProviderOptions converts the CUDA options to a CUDA provider options.
// This is used to pass the options to the CUDA provider.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.Update(o.Map()); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
