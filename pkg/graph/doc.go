// Package graph содержит примитивы медиа графа, на которых построены
// динамические ветки публикации: виды медиа, буферы с RTP пакетами, события
// потока, входные порты, элементы и их хост, шину сообщений, сплиттер с
// точками перехвата на каждом соединении, мост между доменами исполнения,
// сам домен исполнения и очередь отложенных операций.
//
// # Модель данных
//
// Данные движутся "вниз" по графу: источник вызывает Chain у SinkPad,
// SinkPad передает буфер дальше. События (EOS) идут тем же путем и сохраняют
// порядок относительно буферов одного соединения.
//
//	источник ──► Splitter(audio) ──► Connection ──► SinkPad ветки 1
//	                              └─► Connection ──► SinkPad ветки 2
//
// # Домены исполнения
//
// Domain - независимый контекст исполнения со своей шиной сообщений, своим
// base time и своей группой рабочих горутин. Между доменами данные
// пересекают границу только через пару BridgeSink/BridgeSource.
//
// # Отложенные операции
//
// DeferredQueue выполняет операции на отдельной горутине. Любое изменение
// топологии, инициированное из потока данных или из обработчика уведомления,
// должно проходить через такую очередь, а не выполняться на месте.
package graph
