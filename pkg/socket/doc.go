// Package socket 提供基于 WebSocket 的事件路由层：连接注册、按事件名分发、房间广播，
// 以及通过 adapter 包在多个进程之间同步房间成员关系与投递。
//
// # 基本用法
//
//	srv, err := socket.NewServer(
//	    socket.WithMaxConnections(10000),
//	    socket.WithHeartbeat(25*time.Second, 60*time.Second),
//	    socket.WithCheckOriginWhitelist([]string{"https://example.com"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv.OnConnection(func(s *socket.Socket) error {
//	    s.On("join room", socket.Handle(func(s *socket.Socket, room string) error {
//	        return s.Join(room)
//	    }))
//	    s.On("chat message", socket.Handle(func(s *socket.Socket, msg string) error {
//	        for _, room := range s.Rooms() {
//	            if err := s.EmitTo(room, "chat message", msg); err != nil {
//	                return err
//	            }
//	        }
//	        return nil
//	    }))
//	    return nil
//	})
//
//	r.GET("/socket.io/", func(c *gin.Context) {
//	    _ = srv.HandleUpgrade(c.Writer, c.Request)
//	})
//
// # 多进程
//
// 传入 adapter 后，Join/Leave 会向其他节点通告本地成员数，EmitTo 在本地投递后
// 发布给其他节点，目标不在本地的 EmitToConn 由持有该连接的节点投递：
//
//	a, _ := adapter.New(transport, adapter.WithNamespace("socketio-example"))
//	srv, _ := socket.NewServer(socket.WithAdapter(a))
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Shutdown(context.Background())
//
// # 帧格式
//
// 每个文本帧是一个 JSON 对象：
//
//	{"event": "chat message", "data": "hello"}
//
// 未注册的事件被静默丢弃；连续无效帧超过 MaxInvalidFrames 时连接被关闭。
package socket
