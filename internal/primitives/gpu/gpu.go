// Package gpu implements the cl_gpu_* primitive family over
// github.com/goki/vulkan: a headless compute pipeline (no swapchain)
// adapted from the teacher pack's offscreen-rendering Vulkan backend,
// generalized from graphics to a single storage-buffer compute dispatch
// (SPEC_FULL.md §4.2). Device/buffer/pipeline handles are opaque indices
// into an in-process table, never stored in the region itself, since
// Vulkan handles aren't plain integers on every platform.
package gpu

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/behrlich/clexec/internal/interfaces"
	"github.com/behrlich/clexec/internal/region"
	"github.com/behrlich/clexec/internal/registry"
)

var (
	loaderOnce sync.Once
	loaderErr  error
)

func ensureLoader() error {
	loaderOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = fmt.Errorf("gpu: load vulkan library: %w", err)
			return
		}
		loaderErr = vk.Init()
	})
	return loaderErr
}

// device is one cl_gpu_init handle's worth of Vulkan instance/device state.
type device struct {
	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	handle         vk.Device
	queue          vk.Queue
	queueFamily    uint32
	commandPool    vk.CommandPool
	fence          vk.Fence

	mu       sync.Mutex
	buffers  map[int64]*gpuBuffer
	nextBuf  int64
	pipes    map[int64]*pipeline
	nextPipe int64
}

type gpuBuffer struct {
	buf    vk.Buffer
	memory vk.DeviceMemory
	size   vk.DeviceSize
}

type pipeline struct {
	layout       vk.PipelineLayout
	setLayout    vk.DescriptorSetLayout
	pool         vk.DescriptorPool
	set          vk.DescriptorSet
	pipe         vk.Pipeline
	shaderModule vk.ShaderModule
}

// Primitives binds cl_gpu_* to a Region and a set of device handles.
type Primitives struct {
	region *region.Region

	mu      sync.Mutex
	devices map[int64]*device
	nextID  int64
	obs     interfaces.Observer
}

// New constructs an unbound Primitives.
func New() *Primitives {
	return &Primitives{devices: make(map[int64]*device)}
}

// Bind attaches the shared Region.
func (p *Primitives) Bind(r *region.Region) {
	p.region = r
}

// SetObserver attaches a metrics observer for device/pipeline init failures.
func (p *Primitives) SetObserver(obs interfaces.Observer) {
	p.obs = obs
}

func (p *Primitives) observeError(name string) {
	if p.obs != nil {
		p.obs.ObservePrimitiveError(name)
	}
}

func (p *Primitives) getDevice(handle int64) (*device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.devices[handle]
	return d, ok
}

// gpuInit() -> device handle, or -1. Creates an instance, picks a physical
// device with a compute-capable queue family, and opens a logical device
// and command pool, mirroring the teacher's initVulkan bracket.
func (p *Primitives) gpuInit(args []int64) int64 {
	if err := ensureLoader(); err != nil {
		p.observeError("cl_gpu_init")
		return -1
	}

	d := &device{
		buffers: make(map[int64]*gpuBuffer),
		pipes:   make(map[int64]*pipeline),
	}

	appInfo := vk.ApplicationInfo{
		SType:         vk.StructureTypeApplicationInfo,
		ApiVersion:    vk.MakeVersion(1, 1, 0),
		PEngineName:   "clexec\x00",
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}
	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		p.observeError("cl_gpu_init")
		return -1
	}
	d.instance = instance
	vk.InitInstance(instance)

	var deviceCount uint32
	vk.EnumeratePhysicalDevices(instance, &deviceCount, nil)
	if deviceCount == 0 {
		vk.DestroyInstance(instance, nil)
		p.observeError("cl_gpu_init")
		return -1
	}
	devices := make([]vk.PhysicalDevice, deviceCount)
	vk.EnumeratePhysicalDevices(instance, &deviceCount, devices)

	found := false
	for _, pd := range devices {
		var qfCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &qfCount, nil)
		qfs := make([]vk.QueueFamilyProperties, qfCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &qfCount, qfs)
		for i, qf := range qfs {
			qf.Deref()
			if qf.QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
				d.physicalDevice = pd
				d.queueFamily = uint32(i)
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		vk.DestroyInstance(instance, nil)
		p.observeError("cl_gpu_init")
		return -1
	}

	priority := float32(1.0)
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{priority},
	}
	deviceInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueInfo},
	}
	var vkDevice vk.Device
	if res := vk.CreateDevice(d.physicalDevice, &deviceInfo, nil, &vkDevice); res != vk.Success {
		vk.DestroyInstance(instance, nil)
		p.observeError("cl_gpu_init")
		return -1
	}
	d.handle = vkDevice
	var queue vk.Queue
	vk.GetDeviceQueue(vkDevice, d.queueFamily, 0, &queue)
	d.queue = queue

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(vkDevice, &poolInfo, nil, &pool); res != vk.Success {
		vk.DestroyDevice(vkDevice, nil)
		vk.DestroyInstance(instance, nil)
		p.observeError("cl_gpu_init")
		return -1
	}
	d.commandPool = pool

	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if res := vk.CreateFence(vkDevice, &fenceInfo, nil, &fence); res != vk.Success {
		vk.DestroyCommandPool(vkDevice, pool, nil)
		vk.DestroyDevice(vkDevice, nil)
		vk.DestroyInstance(instance, nil)
		p.observeError("cl_gpu_init")
		return -1
	}
	d.fence = fence

	p.mu.Lock()
	handle := p.nextID
	p.nextID++
	p.devices[handle] = d
	p.mu.Unlock()
	return handle
}

func (d *device) findMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, bool) {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &props)
	props.Deref()
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		props.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && props.MemoryTypes[i].PropertyFlags&properties == properties {
			return i, true
		}
	}
	return 0, false
}

// gpuCreateBuffer(device_handle, size) -> buffer handle, or -1. Allocates a
// host-visible, host-coherent storage buffer so upload/download can map it
// directly without a separate staging buffer.
func (p *Primitives) gpuCreateBuffer(args []int64) int64 {
	if len(args) < 2 {
		return -1
	}
	d, ok := p.getDevice(args[0])
	if !ok {
		return -1
	}
	size := vk.DeviceSize(args[1])

	bufInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
		SharingMode: vk.SharingModeExclusive,
	}
	var buf vk.Buffer
	if res := vk.CreateBuffer(d.handle, &bufInfo, nil, &buf); res != vk.Success {
		return -1
	}
	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, buf, &memReqs)
	memReqs.Deref()

	typeIdx, ok := d.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if !ok {
		vk.DestroyBuffer(d.handle, buf, nil)
		return -1
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: typeIdx,
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(d.handle, &allocInfo, nil, &mem); res != vk.Success {
		vk.DestroyBuffer(d.handle, buf, nil)
		return -1
	}
	vk.BindBufferMemory(d.handle, buf, mem, 0)

	d.mu.Lock()
	handle := d.nextBuf
	d.nextBuf++
	d.buffers[handle] = &gpuBuffer{buf: buf, memory: mem, size: size}
	d.mu.Unlock()
	return handle
}

// gpuCreatePipeline(device_handle, spirv_off, spirv_len) -> pipeline
// handle, or -1. The shader binds a single storage buffer at set 0,
// binding 0, matching the single-buffer compute contract this primitive
// family exposes.
func (p *Primitives) gpuCreatePipeline(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	d, ok := p.getDevice(args[0])
	if !ok {
		return -1
	}
	code, err := p.region.Slice(uint32(args[1]), uint32(args[2]))
	if err != nil {
		return -1
	}

	shaderInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    (*uint32)(unsafe.Pointer(&code[0])),
	}
	var shaderModule vk.ShaderModule
	if res := vk.CreateShaderModule(d.handle, &shaderInfo, nil, &shaderModule); res != vk.Success {
		p.observeError("cl_gpu_create_pipeline")
		return -1
	}

	binding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
	}
	setLayoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{binding},
	}
	var setLayout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(d.handle, &setLayoutInfo, nil, &setLayout); res != vk.Success {
		vk.DestroyShaderModule(d.handle, shaderModule, nil)
		return -1
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{setLayout},
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(d.handle, &layoutInfo, nil, &layout); res != vk.Success {
		vk.DestroyDescriptorSetLayout(d.handle, setLayout, nil)
		vk.DestroyShaderModule(d.handle, shaderModule, nil)
		return -1
	}

	stage := vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageComputeBit,
		Module: shaderModule,
		PName:  "main\x00",
	}
	pipeInfo := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stage,
		Layout: layout,
	}
	pipes := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(d.handle, nil, 1, []vk.ComputePipelineCreateInfo{pipeInfo}, nil, pipes); res != vk.Success {
		vk.DestroyPipelineLayout(d.handle, layout, nil)
		vk.DestroyDescriptorSetLayout(d.handle, setLayout, nil)
		vk.DestroyShaderModule(d.handle, shaderModule, nil)
		return -1
	}

	poolSize := vk.DescriptorPoolSize{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: 1,
		PPoolSizes:    []vk.DescriptorPoolSize{poolSize},
	}
	var descPool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(d.handle, &poolInfo, nil, &descPool); res != vk.Success {
		vk.DestroyPipeline(d.handle, pipes[0], nil)
		vk.DestroyPipelineLayout(d.handle, layout, nil)
		vk.DestroyDescriptorSetLayout(d.handle, setLayout, nil)
		vk.DestroyShaderModule(d.handle, shaderModule, nil)
		return -1
	}
	setAllocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{setLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(d.handle, &setAllocInfo, sets); res != vk.Success {
		vk.DestroyDescriptorPool(d.handle, descPool, nil)
		vk.DestroyPipeline(d.handle, pipes[0], nil)
		vk.DestroyPipelineLayout(d.handle, layout, nil)
		vk.DestroyDescriptorSetLayout(d.handle, setLayout, nil)
		vk.DestroyShaderModule(d.handle, shaderModule, nil)
		return -1
	}

	d.mu.Lock()
	handle := d.nextPipe
	d.nextPipe++
	d.pipes[handle] = &pipeline{
		layout:       layout,
		setLayout:    setLayout,
		pool:         descPool,
		set:          sets[0],
		pipe:         pipes[0],
		shaderModule: shaderModule,
	}
	d.mu.Unlock()
	return handle
}

// gpuUpload(device_handle, buffer_handle, src_off, len) -> 0, or -1. Maps
// the buffer's host-visible memory and copies region bytes into it.
func (p *Primitives) gpuUpload(args []int64) int64 {
	if len(args) < 4 {
		return -1
	}
	d, ok := p.getDevice(args[0])
	if !ok {
		return -1
	}
	d.mu.Lock()
	buf, ok := d.buffers[args[1]]
	d.mu.Unlock()
	if !ok {
		return -1
	}
	src, err := p.region.Slice(uint32(args[2]), uint32(args[3]))
	if err != nil {
		return -1
	}

	var mapped unsafe.Pointer
	if res := vk.MapMemory(d.handle, buf.memory, 0, vk.DeviceSize(len(src)), 0, &mapped); res != vk.Success {
		return -1
	}
	dst := unsafe.Slice((*byte)(mapped), len(src))
	copy(dst, src)
	vk.UnmapMemory(d.handle, buf.memory)
	return 0
}

// gpuDispatch(device_handle, pipeline_handle, buffer_handle, group_x) -> 0,
// or -1. Binds the buffer at descriptor set 0 binding 0, records and
// submits a one-shot command buffer, and waits on the device's fence.
func (p *Primitives) gpuDispatch(args []int64) int64 {
	if len(args) < 4 {
		return -1
	}
	d, ok := p.getDevice(args[0])
	if !ok {
		return -1
	}
	d.mu.Lock()
	pipe, pipeOK := d.pipes[args[1]]
	buf, bufOK := d.buffers[args[2]]
	d.mu.Unlock()
	if !pipeOK || !bufOK {
		return -1
	}
	groupX := uint32(args[3])
	if groupX == 0 {
		groupX = 1
	}

	bufferInfo := vk.DescriptorBufferInfo{Buffer: buf.buf, Offset: 0, Range: buf.size}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          pipe.set,
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
	}
	vk.UpdateDescriptorSets(d.handle, 1, []vk.WriteDescriptorSet{write}, 0, nil)

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmdBufs := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(d.handle, &allocInfo, cmdBufs); res != vk.Success {
		return -1
	}
	cmd := cmdBufs[0]
	defer vk.FreeCommandBuffers(d.handle, d.commandPool, 1, cmdBufs)

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	vk.BeginCommandBuffer(cmd, &beginInfo)
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointCompute, pipe.pipe)
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointCompute, pipe.layout, 0, 1, []vk.DescriptorSet{pipe.set}, 0, nil)
	vk.CmdDispatch(cmd, groupX, 1, 1)
	vk.EndCommandBuffer(cmd)

	vk.ResetFences(d.handle, 1, []vk.Fence{d.fence})
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}
	if res := vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{submit}, d.fence); res != vk.Success {
		return -1
	}
	vk.WaitForFences(d.handle, 1, []vk.Fence{d.fence}, vk.True, ^uint64(0))
	return 0
}

// gpuDownload(device_handle, buffer_handle, dst_off, len) -> 0, or -1.
// Maps the buffer's host-visible memory and copies it back into the
// region.
func (p *Primitives) gpuDownload(args []int64) int64 {
	if len(args) < 4 {
		return -1
	}
	d, ok := p.getDevice(args[0])
	if !ok {
		return -1
	}
	d.mu.Lock()
	buf, ok := d.buffers[args[1]]
	d.mu.Unlock()
	if !ok {
		return -1
	}
	length := uint32(args[3])

	var mapped unsafe.Pointer
	if res := vk.MapMemory(d.handle, buf.memory, 0, vk.DeviceSize(length), 0, &mapped); res != vk.Success {
		return -1
	}
	src := unsafe.Slice((*byte)(mapped), length)
	if err := p.region.WriteAt(src, uint32(args[2])); err != nil {
		vk.UnmapMemory(d.handle, buf.memory)
		return -1
	}
	vk.UnmapMemory(d.handle, buf.memory)
	return 0
}

// gpuCleanup(device_handle) -> 0. Tears down every buffer and pipeline,
// then the device and instance, mirroring the teacher's Destroy bracket.
func (p *Primitives) gpuCleanup(args []int64) int64 {
	if len(args) < 1 {
		return 0
	}
	p.mu.Lock()
	d, ok := p.devices[args[0]]
	delete(p.devices, args[0])
	p.mu.Unlock()
	if !ok {
		return 0
	}
	destroyDevice(d)
	return 0
}

func destroyDevice(d *device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, pipe := range d.pipes {
		vk.DestroyDescriptorPool(d.handle, pipe.pool, nil)
		vk.DestroyPipeline(d.handle, pipe.pipe, nil)
		vk.DestroyPipelineLayout(d.handle, pipe.layout, nil)
		vk.DestroyDescriptorSetLayout(d.handle, pipe.setLayout, nil)
		vk.DestroyShaderModule(d.handle, pipe.shaderModule, nil)
	}
	for _, buf := range d.buffers {
		vk.DestroyBuffer(d.handle, buf.buf, nil)
		vk.FreeMemory(d.handle, buf.memory, nil)
	}
	vk.DestroyFence(d.handle, d.fence, nil)
	vk.DestroyCommandPool(d.handle, d.commandPool, nil)
	vk.DestroyDevice(d.handle, nil)
	vk.DestroyInstance(d.instance, nil)
}

// Register binds every cl_gpu_* symbol into reg.
func (p *Primitives) Register(reg *registry.Registry) {
	reg.Register(registry.Primitive{Name: "cl_gpu_init", Fn: p.gpuInit})
	reg.Register(registry.Primitive{Name: "cl_gpu_cleanup", Fn: p.gpuCleanup})
	reg.Register(registry.Primitive{Name: "cl_gpu_create_buffer", Fn: p.gpuCreateBuffer})
	reg.Register(registry.Primitive{Name: "cl_gpu_create_pipeline", Fn: p.gpuCreatePipeline})
	reg.Register(registry.Primitive{Name: "cl_gpu_upload", Fn: p.gpuUpload})
	reg.Register(registry.Primitive{Name: "cl_gpu_dispatch", Fn: p.gpuDispatch})
	reg.Register(registry.Primitive{Name: "cl_gpu_download", Fn: p.gpuDownload})
}

// Close destroys every still-open device.
func (p *Primitives) Close() error {
	p.mu.Lock()
	devices := make([]*device, 0, len(p.devices))
	for _, d := range p.devices {
		devices = append(devices, d)
	}
	p.devices = make(map[int64]*device)
	p.mu.Unlock()

	for _, d := range devices {
		destroyDevice(d)
	}
	return nil
}
